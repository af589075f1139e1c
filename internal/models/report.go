package models

import "github.com/shopspring/decimal"

// ReportVersion is bumped whenever a normalized shape changes incompatibly.
const ReportVersion = "v1"

// Normalized report shapes. Absent values are null and absent lists are empty,
// never omitted, so consumers need no presence checks.

type CreditReport struct {
	Version         string           `json:"version"`
	Document        string           `json:"document"`
	Name            *string          `json:"name"`
	Score           *int             `json:"score"`
	HasRestrictions bool             `json:"hasRestrictions"`
	TotalDebt       *decimal.Decimal `json:"totalDebt"`
	Restrictions    []Restriction    `json:"restrictions"`
	Protests        []Protest        `json:"protests"`
}

type Restriction struct {
	Kind     *string          `json:"kind"`
	Creditor *string          `json:"creditor"`
	Amount   *decimal.Decimal `json:"amount"`
	Date     *string          `json:"date"`
}

type Protest struct {
	Notary *string          `json:"notary"`
	City   *string          `json:"city"`
	Amount *decimal.Decimal `json:"amount"`
	Date   *string          `json:"date"`
}

type IdentityReport struct {
	Version    string    `json:"version"`
	Document   string    `json:"document"`
	Name       *string   `json:"name"`
	BirthDate  *string   `json:"birthDate"`
	MotherName *string   `json:"motherName"`
	Status     *string   `json:"status"`
	Addresses  []Address `json:"addresses"`
}

type Address struct {
	Street   *string `json:"street"`
	Number   *string `json:"number"`
	District *string `json:"district"`
	City     *string `json:"city"`
	State    *string `json:"state"`
	ZipCode  *string `json:"zipCode"`
}

type AddressReport struct {
	Version string `json:"version"`
	Address
}

type VehicleReport struct {
	Version      string   `json:"version"`
	Plate        string   `json:"plate"`
	Renavam      *string  `json:"renavam"`
	Chassis      *string  `json:"chassis"`
	Make         *string  `json:"make"`
	Model        *string  `json:"model"`
	Year         *int     `json:"year"`
	Color        *string  `json:"color"`
	Owner        *string  `json:"owner"`
	Restrictions []string `json:"restrictions"`
	Fines        []Fine   `json:"fines"`
}

type Fine struct {
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Date        *string          `json:"date"`
}

// GenericReport carries the raw fields of services without a dedicated shape.
type GenericReport struct {
	Version string         `json:"version"`
	Fields  map[string]any `json:"fields"`
}

// DocumentCheck is the result of a local CPF/CNPJ check-digit validation.
type DocumentCheck struct {
	Version      string `json:"version"`
	Document     string `json:"document"`
	DocumentType string `json:"documentType"`
	Valid        bool   `json:"valid"`
}
