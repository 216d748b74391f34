package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"loanforge/cmd/loand/config"
	"loanforge/crypto"
	"loanforge/native/loan"
	"loanforge/observability/logging"
	telemetry "loanforge/observability/otel"
	"loanforge/services/loand/auth"
	"loanforge/services/loand/server"
	"loanforge/storage/loanstore"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "loand",
		Short: "loand runs and operates the loanforge lending service",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./loand.toml", "path to loand's TOML config file")

	root.AddCommand(newServeCommand(&cfgPath))
	root.AddCommand(newMigrateCommand(&cfgPath))
	root.AddCommand(newAmortizeCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	case "sqlite", "":
		return gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unknown DatabaseDriver %q", cfg.DatabaseDriver)
	}
}

func newMigrateCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "applies loanstore's schema migrations and exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := loanstore.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Println("loanstore schema migrated")
			return nil
		},
	}
}

func newAmortizeCommand() *cobra.Command {
	var principal, endingPrincipal, rateStr string
	var interval, payments uint64

	cmd := &cobra.Command{
		Use:   "amortize",
		Short: "prints a projected on-time amortization schedule for a set of terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := new(big.Int).SetString(principal, 10)
			if !ok {
				return fmt.Errorf("invalid --principal %q", principal)
			}
			e, ok := new(big.Int).SetString(endingPrincipal, 10)
			if !ok {
				return fmt.Errorf("invalid --ending-principal %q", endingPrincipal)
			}
			r, ok := new(big.Int).SetString(rateStr, 10)
			if !ok {
				return fmt.Errorf("invalid --rate %q", rateStr)
			}
			rows := loan.ProjectSchedule(p, e, r, interval, payments)
			fmt.Fprintln(cmd.OutOrStdout(), "payment\tprincipal\tinterest\tremaining")
			for _, row := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", row.Payment, row.Principal, row.Interest, row.RemainingPrincipal)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "outstanding principal, in the funds asset's base unit")
	cmd.Flags().StringVar(&endingPrincipal, "ending-principal", "0", "balloon principal left owing at the final payment")
	cmd.Flags().StringVar(&rateStr, "rate", "0", "annualized interest rate, scaled by 1e18")
	cmd.Flags().Uint64Var(&interval, "interval-seconds", 2_592_000, "seconds between payments")
	cmd.Flags().Uint64Var(&payments, "payments", 12, "number of payments remaining")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}

func newServeCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "runs the loand HTTP service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*cfgPath)
		},
	}
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("LOANFORGE_ENV"))
	slogger := logging.Setup("loand", env)

	auditWriter := &lumberjack.Logger{
		Filename:   cfg.AuditLogPath,
		MaxSize:    cfg.AuditMaxSizeMB,
		MaxAge:     cfg.AuditMaxAgeDays,
		MaxBackups: cfg.AuditMaxBackups,
	}
	defer auditWriter.Close()
	auditLogger := slog.New(slog.NewJSONHandler(auditWriter, nil))
	auditLogger.Info("loand audit trail started", "listen", cfg.ListenAddress)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "loand",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := loanstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	store := loanstore.NewStore(db)

	treasury, err := parseOptionalAddress(cfg.TreasuryAddress)
	if err != nil {
		return fmt.Errorf("TreasuryAddress: %w", err)
	}
	poolDelegate, err := parseOptionalAddress(cfg.PoolDelegate)
	if err != nil {
		return fmt.Errorf("PoolDelegate: %w", err)
	}

	srv := server.New(server.Config{
		Store: store,
		Fees: staticFeeView{
			treasuryBps:  cfg.TreasuryFeeBps,
			investorBps:  cfg.InvestorFeeBps,
			treasury:     treasury,
			poolDelegate: poolDelegate,
		},
		Auth: auth.Config{
			Secret:    cfg.JWTSecret,
			ClockSkew: time.Duration(cfg.JWTClockSkewSecs) * time.Second,
		},
	})

	handler := otelhttp.NewHandler(srv.Handler(), "loand")
	httpServer := &http.Server{Addr: cfg.ListenAddress, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slogger.Info("loand listening", "address", cfg.ListenAddress)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slogger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}
	return nil
}

func parseOptionalAddress(s string) (crypto.Address, error) {
	if strings.TrimSpace(s) == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(s)
}

type staticFeeView struct {
	treasuryBps  uint64
	investorBps  uint64
	treasury     crypto.Address
	poolDelegate crypto.Address
}

func (s staticFeeView) TreasuryFeeBps() uint64       { return s.treasuryBps }
func (s staticFeeView) InvestorFeeBps() uint64       { return s.investorBps }
func (s staticFeeView) Treasury() crypto.Address     { return s.treasury }
func (s staticFeeView) PoolDelegate() crypto.Address { return s.poolDelegate }
