package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
)

// nestedKeys are containers providers wrap their payload in.
var nestedKeys = []string{"data", "dados", "result", "resultado", "retorno"}

// fields is a case-insensitive view over a provider response.
type fields map[string]any

func newFields(raw map[string]any) fields {
	f := make(fields, len(raw))
	for k, v := range raw {
		f[strings.ToLower(k)] = v
	}
	for _, key := range nestedKeys {
		nested, ok := f[key].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range nested {
			lk := strings.ToLower(k)
			if _, exists := f[lk]; !exists {
				f[lk] = v
			}
		}
	}
	return f
}

func (f fields) pick(keys ...string) any {
	for _, key := range keys {
		if v, ok := f[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (f fields) str(keys ...string) *string {
	return toString(f.pick(keys...))
}

// NormalizeResponse maps a provider response onto the stable report of its category.
func NormalizeResponse(category models.Category, raw map[string]any, input map[string]string) any {
	f := newFields(raw)

	switch category {
	case models.CategoryCredit:
		return normalizeCredit(f, input)
	case models.CategoryIdentity:
		return normalizeIdentity(f, input)
	case models.CategoryVehicle:
		return normalizeVehicle(f, input)
	case models.CategoryAddress:
		return normalizeAddress(f, input)
	default:
		report := models.GenericReport{Version: models.ReportVersion, Fields: map[string]any{}}
		for k, v := range raw {
			report.Fields[k] = v
		}
		return report
	}
}

func normalizeCredit(f fields, input map[string]string) models.CreditReport {
	report := models.CreditReport{
		Version:      models.ReportVersion,
		Document:     inputDocument(input, f),
		Name:         f.str("nome", "name", "razao_social"),
		Score:        toInt(f.pick("score", "pontuacao")),
		TotalDebt:    toMoney(f.pick("total_dividas", "valor_total", "total_debt")),
		Restrictions: []models.Restriction{},
		Protests:     []models.Protest{},
	}

	for _, item := range toList(f.pick("restricoes", "pendencias", "restrictions")) {
		r := newFields(item)
		report.Restrictions = append(report.Restrictions, models.Restriction{
			Kind:     r.str("tipo", "natureza", "kind"),
			Creditor: r.str("credor", "empresa", "creditor"),
			Amount:   toMoney(r.pick("valor", "amount")),
			Date:     toDate(r.pick("data", "data_ocorrencia", "date")),
		})
	}
	for _, item := range toList(f.pick("protestos", "protests")) {
		p := newFields(item)
		report.Protests = append(report.Protests, models.Protest{
			Notary: p.str("cartorio", "notary"),
			City:   p.str("cidade", "municipio", "city"),
			Amount: toMoney(p.pick("valor", "amount")),
			Date:   toDate(p.pick("data", "data_protesto", "date")),
		})
	}

	if flag := toBool(f.pick("possui_restricao", "restricao", "has_restrictions")); flag != nil {
		report.HasRestrictions = *flag
	} else {
		report.HasRestrictions = len(report.Restrictions) > 0 || len(report.Protests) > 0
	}
	return report
}

func normalizeIdentity(f fields, input map[string]string) models.IdentityReport {
	report := models.IdentityReport{
		Version:    models.ReportVersion,
		Document:   inputDocument(input, f),
		Name:       f.str("nome", "name", "razao_social"),
		BirthDate:  toDate(f.pick("data_nascimento", "nascimento", "birth_date")),
		MotherName: f.str("nome_mae", "mae", "mother_name"),
		Status:     f.str("situacao", "situacao_cadastral", "status"),
		Addresses:  []models.Address{},
	}

	for _, item := range toList(f.pick("enderecos", "addresses")) {
		report.Addresses = append(report.Addresses, addressFrom(newFields(item)))
	}
	if len(report.Addresses) == 0 {
		if nested, ok := f.pick("endereco", "address").(map[string]any); ok {
			report.Addresses = append(report.Addresses, addressFrom(newFields(nested)))
		}
	}
	return report
}

func normalizeVehicle(f fields, input map[string]string) models.VehicleReport {
	plate, _ := NormalizeField(models.FieldPlate, input["placa"])
	if plate == "" {
		if p := f.str("placa", "plate"); p != nil {
			plate, _ = NormalizeField(models.FieldPlate, *p)
		}
	}

	report := models.VehicleReport{
		Version:      models.ReportVersion,
		Plate:        plate,
		Renavam:      f.str("renavam"),
		Chassis:      f.str("chassi", "chassis"),
		Make:         f.str("marca", "make"),
		Model:        f.str("modelo", "model"),
		Year:         toInt(f.pick("ano_modelo", "ano", "year")),
		Color:        f.str("cor", "color"),
		Owner:        f.str("proprietario", "owner"),
		Restrictions: []string{},
		Fines:        []models.Fine{},
	}

	for _, v := range toAnyList(f.pick("restricoes", "restrictions")) {
		if s := toString(v); s != nil {
			report.Restrictions = append(report.Restrictions, *s)
		}
	}
	for _, item := range toList(f.pick("multas", "fines")) {
		m := newFields(item)
		report.Fines = append(report.Fines, models.Fine{
			Description: m.str("descricao", "infracao", "description"),
			Amount:      toMoney(m.pick("valor", "amount")),
			Date:        toDate(m.pick("data", "data_infracao", "date")),
		})
	}
	return report
}

func normalizeAddress(f fields, input map[string]string) models.AddressReport {
	report := models.AddressReport{Version: models.ReportVersion, Address: addressFrom(f)}
	if report.ZipCode == nil {
		if cep, _ := NormalizeField(models.FieldDocument, input["cep"]); cep != "" {
			report.ZipCode = &cep
		}
	}
	return report
}

func addressFrom(f fields) models.Address {
	addr := models.Address{
		Street:   f.str("logradouro", "rua", "street"),
		Number:   f.str("numero", "number"),
		District: f.str("bairro", "district"),
		City:     f.str("cidade", "localidade", "municipio", "city"),
		State:    f.str("uf", "estado", "state"),
	}
	if cep := toString(f.pick("cep", "zip_code", "zipcode")); cep != nil {
		digits, _ := NormalizeField(models.FieldDocument, *cep)
		if digits != "" {
			addr.ZipCode = &digits
		}
	}
	return addr
}

func inputDocument(input map[string]string, f fields) string {
	for _, key := range []string{"documento", "cpf", "cnpj"} {
		if v, ok := input[key]; ok {
			if doc, _ := NormalizeField(models.FieldDocument, v); doc != "" {
				return doc
			}
		}
	}
	if v := f.str("documento", "cpf", "cnpj"); v != nil {
		doc, _ := NormalizeField(models.FieldDocument, *v)
		return doc
	}
	return ""
}

func toString(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	case map[string]any, []any:
		return nil
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return nil
	}
	return &s
}

func toInt(v any) *int {
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

func toBool(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "sim", "s", "1":
			b := true
			return &b
		case "false", "nao", "não", "n", "0":
			b := false
			return &b
		}
	}
	return nil
}

// toMoney accepts JSON numbers and strings in either 1234.56 or 1.234,56 form.
func toMoney(v any) *decimal.Decimal {
	var d decimal.Decimal
	switch t := v.(type) {
	case float64:
		d = decimal.NewFromFloat(t)
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "R$"))
		if strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	d = d.Round(2)
	return &d
}

func toDate(v any) *string {
	s := toString(v)
	if s == nil {
		return nil
	}
	if normalized, err := NormalizeField(models.FieldDate, *s); err == nil && normalized != "" {
		return &normalized
	}
	return s
}

func toAnyList(v any) []any {
	list, _ := v.([]any)
	return list
}

func toList(v any) []map[string]any {
	var out []map[string]any
	for _, item := range toAnyList(v) {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
