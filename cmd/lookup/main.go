package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"lookup-billing-go/internal/common"
	"lookup-billing-go/internal/config"
	"lookup-billing-go/internal/lookup"

	"go.uber.org/zap"
)

// inputFlags collects repeated -input key=value pairs.
type inputFlags map[string]string

func (f inputFlags) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f inputFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	f[key] = val
	return nil
}

func main() {
	input := inputFlags{}
	tenantFlag := flag.String("tenant", "", "Tenant id (required)")
	accountFlag := flag.String("account", "", "Account id to bill (required)")
	providerFlag := flag.String("provider", "", "Provider name from the providers file (required)")
	serviceFlag := flag.String("service", "", "Service id or endpoint to call (required)")
	flag.Var(input, "input", "Input field as key=value, repeatable")
	flag.Parse()

	if *tenantFlag == "" || *accountFlag == "" || *providerFlag == "" || *serviceFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	result := services.Lookups.Execute(ctx, lookup.Request{
		TenantId:  *tenantFlag,
		AccountId: *accountFlag,
		Provider:  *providerFlag,
		ServiceId: *serviceFlag,
		Input:     input,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		zap.L().Fatal("Failed to encode result", zap.Error(err))
	}
	common.PrintHeader("LOOKUP RESULT", common.WideWidth)
	fmt.Println(string(out))

	// Drain the billing event before reading the balance back.
	services.Bus.Close()

	balance, err := services.Ledger.GetBalance(ctx, *accountFlag)
	if err != nil {
		zap.L().Error("Failed to read balance", zap.String("account_id", *accountFlag), zap.Error(err))
	} else {
		common.PrintFooter(fmt.Sprintf("Balance of %s: %s", *accountFlag, balance.StringFixed(2)), common.WideWidth)
	}

	if !result.Success {
		loggerCleanup()
		services.Close()
		os.Exit(1)
	}
}
