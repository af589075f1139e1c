package gateway

import (
	"strings"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
)

// categoryKeywords is checked in order; the first category with a keyword
// contained in the endpoint wins.
var categoryKeywords = []struct {
	category models.Category
	keywords []string
}{
	{models.CategoryIdentity, []string{"receita", "portal", "tse", "cnis", "dataprev", "antecedentes"}},
	{models.CategoryCredit, []string{"cenprot", "serasa", "boavista", "scpc", "protesto", "credito", "score", "financeiro"}},
	{models.CategoryVehicle, []string{"detran", "serpro", "ecrvsp", "veiculo", "placa", "renavam", "chassi", "multa"}},
	{models.CategoryAddress, []string{"correios", "cep", "endereco"}},
}

// InferCategory classifies an endpoint path by keyword.
func InferCategory(endpoint string) models.Category {
	path := strings.ToLower(endpoint)
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(path, keyword) {
				return entry.category
			}
		}
	}
	return models.CategoryOther
}

// PriceTable is the fixed price per category.
type PriceTable map[models.Category]decimal.Decimal

// Cost returns the price of a category, falling back to the "other" price.
func (p PriceTable) Cost(category models.Category) decimal.Decimal {
	if price, ok := p[category]; ok {
		return price
	}
	if price, ok := p[models.CategoryOther]; ok {
		return price
	}
	return decimal.Zero
}
