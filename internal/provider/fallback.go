package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lookup-billing-go/internal/gateway"
	"lookup-billing-go/internal/models"
)

// Fallback source names accepted in the providers file.
const (
	FallbackAddress  = "address"
	FallbackChecksum = "checksum"
)

var ErrNotServed = errors.New("fallback cannot serve this lookup")

// NewFallbacks builds the named fallback sources in the given order.
func NewFallbacks(names []string, cfg models.FallbackConfig) ([]gateway.FallbackSource, error) {
	sources := make([]gateway.FallbackSource, 0, len(names))
	for _, name := range names {
		switch name {
		case FallbackAddress:
			source, err := NewAddressSource(cfg.AddressURL, cfg.AddressTimeout)
			if err != nil {
				return nil, err
			}
			sources = append(sources, source)
		case FallbackChecksum:
			sources = append(sources, ChecksumSource{})
		default:
			return nil, fmt.Errorf("unknown fallback source %q", name)
		}
	}
	return sources, nil
}

// AddressSource resolves postal codes against a free public CEP service.
type AddressSource struct {
	baseURL string
	client  *http.Client
}

func NewAddressSource(baseURL string, timeout time.Duration) (*AddressSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("address fallback needs a base url")
	}
	client, err := gateway.NewHTTPClient(timeout)
	if err != nil {
		return nil, err
	}
	return &AddressSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}, nil
}

func (s *AddressSource) Name() string {
	return FallbackAddress
}

func (s *AddressSource) Lookup(ctx context.Context, req gateway.FallbackRequest) (any, error) {
	if req.Category != models.CategoryAddress {
		return nil, fmt.Errorf("%w: category %s", ErrNotServed, req.Category)
	}
	cep, _ := gateway.NormalizeField(models.FieldDocument, req.Input["cep"])
	if len(cep) != 8 {
		return nil, fmt.Errorf("%w: cep must have 8 digits", gateway.ErrInvalidInput)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+cep+"/json", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("address lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("address lookup failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("address lookup failed with status %d", resp.StatusCode)
	}

	raw, err := gateway.DecodeResponse(body)
	if err != nil {
		return nil, err
	}
	return gateway.NormalizeResponse(models.CategoryAddress, raw, req.Input), nil
}

// ChecksumSource validates CPF and CNPJ check digits locally. It only tells
// whether a document is well formed, so it serves identity and credit lookups
// as a degraded answer.
type ChecksumSource struct{}

func (ChecksumSource) Name() string {
	return FallbackChecksum
}

func (ChecksumSource) Lookup(_ context.Context, req gateway.FallbackRequest) (any, error) {
	if req.Category != models.CategoryIdentity && req.Category != models.CategoryCredit {
		return nil, fmt.Errorf("%w: category %s", ErrNotServed, req.Category)
	}

	var document string
	for _, key := range []string{"documento", "cpf", "cnpj"} {
		if v, ok := req.Input[key]; ok {
			document, _ = gateway.NormalizeField(models.FieldDocument, v)
			break
		}
	}

	check := models.DocumentCheck{Version: models.ReportVersion, Document: document}
	switch len(document) {
	case 11:
		check.DocumentType = "cpf"
		check.Valid = ValidCPF(document)
	case 14:
		check.DocumentType = "cnpj"
		check.Valid = ValidCNPJ(document)
	default:
		return nil, fmt.Errorf("%w: no cpf or cnpj in input", gateway.ErrInvalidInput)
	}
	return check, nil
}

// ValidCPF checks the two mod-11 verifier digits of an 11 digit CPF.
func ValidCPF(cpf string) bool {
	if len(cpf) != 11 || !onlyDigits(cpf) || repeated(cpf) {
		return false
	}
	for n := 9; n <= 10; n++ {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(cpf[i]-'0') * (n + 1 - i)
		}
		dv := sum * 10 % 11
		if dv == 10 {
			dv = 0
		}
		if dv != int(cpf[n]-'0') {
			return false
		}
	}
	return true
}

// ValidCNPJ checks the two mod-11 verifier digits of a 14 digit CNPJ.
func ValidCNPJ(cnpj string) bool {
	if len(cnpj) != 14 || !onlyDigits(cnpj) || repeated(cnpj) {
		return false
	}
	weights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	for n := 12; n <= 13; n++ {
		w := weights[13-n:]
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(cnpj[i]-'0') * w[i]
		}
		dv := 0
		if r := sum % 11; r >= 2 {
			dv = 11 - r
		}
		if dv != int(cnpj[n]-'0') {
			return false
		}
	}
	return true
}

func onlyDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func repeated(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}
