package gateway

import (
	"encoding/json"
	"testing"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	m, err := DecodeResponse([]byte(raw))
	require.NoError(t, err)
	return m
}

func TestNormalizeCredit(t *testing.T) {
	raw := decode(t, `{
		"dados": {
			"nome": "Maria da Silva",
			"score": "712",
			"restricoes": [{"tipo": "PEFIN", "credor": "Banco X", "valor": "1.234,56", "data": "10/01/2024"}],
			"protestos": [{"cartorio": "1o Tabelionato", "cidade": "Sao Paulo", "valor": 300.5, "data": "2023-11-02"}]
		}
	}`)

	report, ok := NormalizeResponse(models.CategoryCredit, raw, map[string]string{"documento": "123.456.789-09"}).(models.CreditReport)
	require.True(t, ok)

	assert.Equal(t, models.ReportVersion, report.Version)
	assert.Equal(t, "12345678909", report.Document)
	require.NotNil(t, report.Name)
	assert.Equal(t, "Maria da Silva", *report.Name)
	require.NotNil(t, report.Score)
	assert.Equal(t, 712, *report.Score)
	assert.True(t, report.HasRestrictions)

	require.Len(t, report.Restrictions, 1)
	assert.True(t, report.Restrictions[0].Amount.Equal(decimal.RequireFromString("1234.56")))
	assert.Equal(t, "2024-01-10", *report.Restrictions[0].Date)

	require.Len(t, report.Protests, 1)
	assert.True(t, report.Protests[0].Amount.Equal(decimal.RequireFromString("300.5")))
	assert.Nil(t, report.TotalDebt)
}

func TestNormalize_EmptyResponseKeepsAllKeys(t *testing.T) {
	for _, category := range []models.Category{
		models.CategoryCredit, models.CategoryIdentity, models.CategoryVehicle, models.CategoryAddress, models.CategoryOther,
	} {
		out, err := json.Marshal(NormalizeResponse(category, map[string]any{}, nil))
		require.NoError(t, err)

		var generic map[string]any
		require.NoError(t, json.Unmarshal(out, &generic))
		assert.Equal(t, models.ReportVersion, generic["version"], category)

		for key, value := range generic {
			if list, ok := value.([]any); ok {
				assert.NotNil(t, list, "%s.%s", category, key)
			}
		}
	}

	out, _ := json.Marshal(NormalizeResponse(models.CategoryVehicle, map[string]any{}, nil))
	assert.JSONEq(t, `{
		"version": "v1", "plate": "", "renavam": null, "chassis": null, "make": null, "model": null,
		"year": null, "color": null, "owner": null, "restrictions": [], "fines": []
	}`, string(out))
}

func TestNormalizeVehicle(t *testing.T) {
	raw := decode(t, `{"resultado": {"marca": "FIAT", "modelo": "UNO", "ano_modelo": 2015, "cor": "BRANCA",
		"restricoes": ["ALIENACAO FIDUCIARIA"], "multas": [{"descricao": "Velocidade", "valor": "130,16", "data": "05/02/2024"}]}}`)

	report := NormalizeResponse(models.CategoryVehicle, raw, map[string]string{"placa": "abc-1d23"}).(models.VehicleReport)

	assert.Equal(t, "ABC1D23", report.Plate)
	assert.Equal(t, "FIAT", *report.Make)
	assert.Equal(t, 2015, *report.Year)
	assert.Equal(t, []string{"ALIENACAO FIDUCIARIA"}, report.Restrictions)
	require.Len(t, report.Fines, 1)
	assert.True(t, report.Fines[0].Amount.Equal(decimal.RequireFromString("130.16")))
	assert.Equal(t, "2024-02-05", *report.Fines[0].Date)
	assert.Nil(t, report.Owner)
}

func TestNormalizeIdentityAndAddress(t *testing.T) {
	raw := decode(t, `{"nome": "Joao", "data_nascimento": "17/05/1990", "situacao": "REGULAR",
		"endereco": {"logradouro": "Rua A", "numero": 10, "bairro": "Centro", "cidade": "Campinas", "uf": "SP", "cep": "13010-000"}}`)

	identity := NormalizeResponse(models.CategoryIdentity, raw, map[string]string{"cpf": "12345678909"}).(models.IdentityReport)
	assert.Equal(t, "1990-05-17", *identity.BirthDate)
	assert.Equal(t, "REGULAR", *identity.Status)
	assert.Nil(t, identity.MotherName)
	require.Len(t, identity.Addresses, 1)
	assert.Equal(t, "10", *identity.Addresses[0].Number)
	assert.Equal(t, "13010000", *identity.Addresses[0].ZipCode)

	address := NormalizeResponse(models.CategoryAddress, decode(t, `{"logradouro": "Praca da Se", "localidade": "Sao Paulo"}`),
		map[string]string{"cep": "01001-000"}).(models.AddressReport)
	assert.Equal(t, "Sao Paulo", *address.City)
	assert.Equal(t, "01001000", *address.ZipCode)
}

func TestDecodeResponse_Errors(t *testing.T) {
	for _, body := range []string{`not json`, `null`, `[1,2]`, `{"erro": true}`, `{"error": "invalid token"}`} {
		_, err := DecodeResponse([]byte(body))
		assert.ErrorIs(t, err, ErrBadResponse, body)
	}

	_, err := DecodeResponse([]byte(`{"erro": false, "nome": "x"}`))
	assert.NoError(t, err)
}
