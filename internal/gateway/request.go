package gateway

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"lookup-billing-go/internal/models"
)

// dateLayouts are the accepted input forms of a date field, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"20060102",
	time.RFC3339,
}

// fieldTable is used for services that have no schema, keyed by endpoint.
var fieldTable = map[string][]models.FieldSpec{
	"receita-federal/cpf": {
		{Name: "cpf", Type: models.FieldDocument, Required: true, MinLength: 11, MaxLength: 11},
		{Name: "data_nascimento", Type: models.FieldDate},
	},
	"receita-federal/cnpj": {
		{Name: "cnpj", Type: models.FieldDocument, Required: true, MinLength: 14, MaxLength: 14},
	},
	"tse/situacao-eleitoral": {
		{Name: "cpf", Type: models.FieldDocument, Required: true, MinLength: 11, MaxLength: 11},
		{Name: "data_nascimento", Type: models.FieldDate, Required: true},
		{Name: "nome_mae", Type: models.FieldText},
	},
	"cenprot/protestos": {
		{Name: "documento", Type: models.FieldDocument, Required: true, MinLength: 11, MaxLength: 14},
	},
	"serasa/score": {
		{Name: "documento", Type: models.FieldDocument, Required: true, MinLength: 11, MaxLength: 14},
	},
	"detran/placa": {
		{Name: "placa", Type: models.FieldPlate, Required: true, MinLength: 7, MaxLength: 7},
	},
	"serpro/renavam": {
		{Name: "renavam", Type: models.FieldDocument, Required: true, MinLength: 9, MaxLength: 11},
	},
	"correios/cep": {
		{Name: "cep", Type: models.FieldDocument, Required: true, MinLength: 8, MaxLength: 8},
	},
}

var (
	patternsMu sync.Mutex
	patterns   = make(map[string]*regexp.Regexp)
)

// NormalizeField applies the type-specific canonical form of a raw input value.
func NormalizeField(fieldType models.FieldType, raw string) (string, error) {
	value := strings.TrimSpace(raw)

	switch fieldType {
	case models.FieldDocument:
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, value), nil

	case models.FieldPlate:
		return strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
				return r
			}
			if r >= 'a' && r <= 'z' {
				return unicode.ToUpper(r)
			}
			return -1
		}, value), nil

	case models.FieldDate:
		if value == "" {
			return "", nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		return "", fmt.Errorf("unrecognized date %q", raw)

	default:
		return value, nil
	}
}

// BuildForm normalizes and validates input against fields and appends the
// provider credentials and timeout. Input keys without a field are not sent.
func BuildForm(fields []models.FieldSpec, input map[string]string, token string, timeout time.Duration) (url.Values, error) {
	form := url.Values{}

	for _, field := range fields {
		raw, present := input[field.Name]
		value := ""
		if present {
			normalized, err := NormalizeField(field.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidInput, field.Name, err)
			}
			value = normalized
		}

		if value == "" {
			if field.Required {
				return nil, fmt.Errorf("%w: field %s is required", ErrInvalidInput, field.Name)
			}
			continue
		}

		if err := validateField(field, value); err != nil {
			return nil, err
		}
		form.Set(field.Name, value)
	}

	form.Set("token", token)
	form.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	return form, nil
}

func validateField(field models.FieldSpec, value string) error {
	length := len([]rune(value))
	if field.MinLength > 0 && length < field.MinLength {
		return fmt.Errorf("%w: field %s must have at least %d characters", ErrInvalidInput, field.Name, field.MinLength)
	}
	if field.MaxLength > 0 && length > field.MaxLength {
		return fmt.Errorf("%w: field %s must have at most %d characters", ErrInvalidInput, field.Name, field.MaxLength)
	}
	if field.Pattern != "" {
		re, err := compilePattern(field.Pattern)
		if err != nil {
			return fmt.Errorf("%w: field %s has an invalid pattern: %v", ErrInvalidInput, field.Name, err)
		}
		if !re.MatchString(value) {
			return fmt.Errorf("%w: field %s does not match %s", ErrInvalidInput, field.Name, field.Pattern)
		}
	}
	return nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternsMu.Lock()
	defer patternsMu.Unlock()

	if re, ok := patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns[pattern] = re
	return re, nil
}

// fieldsForEndpoint looks up the built-in field table.
func fieldsForEndpoint(endpoint string) ([]models.FieldSpec, bool) {
	fields, ok := fieldTable[strings.Trim(endpoint, "/")]
	return fields, ok
}
