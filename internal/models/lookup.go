/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups lookups that share a normalized shape and a price
type Category string

const (
	CategoryCredit   Category = "credit"
	CategoryIdentity Category = "identity"
	CategoryVehicle  Category = "vehicle"
	CategoryAddress  Category = "address"
	CategoryOther    Category = "other"
)

// FieldType selects the normalization applied to an input field
type FieldType string

const (
	FieldDocument FieldType = "document"
	FieldDate     FieldType = "date"
	FieldPlate    FieldType = "plate"
	FieldText     FieldType = "text"
)

// FieldSpec describes one typed input field of a provider service
type FieldSpec struct {
	Name      string    `yaml:"name" json:"name"`
	Type      FieldType `yaml:"type" json:"type"`
	Required  bool      `yaml:"required" json:"required"`
	MinLength int       `yaml:"min_length" json:"minLength,omitempty"`
	MaxLength int       `yaml:"max_length" json:"maxLength,omitempty"`
	Pattern   string    `yaml:"pattern" json:"pattern,omitempty"`
}

// ProviderSchema describes how to call one upstream service
type ProviderSchema struct {
	ServiceId string      `yaml:"service_id" json:"serviceId"`
	Endpoint  string      `yaml:"endpoint" json:"endpoint"`
	Fields    []FieldSpec `yaml:"fields" json:"fields"`
}

// LookupResult is what a provider execution hands back to the caller
type LookupResult struct {
	Success    bool            `json:"ok"`
	LookupId   string          `json:"lookupId,omitempty"`
	ServiceId  string          `json:"serviceId"`
	Provider   string          `json:"provider"`
	Category   Category        `json:"category"`
	Source     string          `json:"source"`
	Data       any             `json:"data"`
	Cost       decimal.Decimal `json:"cost"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// SourcePrimary marks a result produced by the upstream provider itself
const SourcePrimary = "primary"
