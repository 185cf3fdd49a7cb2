// Command orchestrator is the thin outer CLI binding the governance
// core to the filesystem: validate an IR, run a graph spec through the
// gateway, or verify an evidence pack, grounded on the teacher's
// flag-based command dispatcher.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerflow/orchestrator/pkg/approval"
	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/config"
	"github.com/ledgerflow/orchestrator/pkg/evidence"
	"github.com/ledgerflow/orchestrator/pkg/executor"
	"github.com/ledgerflow/orchestrator/pkg/eventstream"
	"github.com/ledgerflow/orchestrator/pkg/gateway"
	"github.com/ledgerflow/orchestrator/pkg/governor"
	"github.com/ledgerflow/orchestrator/pkg/ir"
	"github.com/ledgerflow/orchestrator/pkg/node"
	"github.com/ledgerflow/orchestrator/pkg/observability"
	"github.com/ledgerflow/orchestrator/pkg/validator"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, factored out for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "execute":
		return runExecute(args[2:], stdout, stderr)
	case "approve":
		return runApprove(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "orchestrator 0.1.0")
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "orchestrator <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  validate <ir.json>              run the IR through the validator")
	fmt.Fprintln(w, "  execute  <graph.json> [ir.json]  run a graph spec through the gateway")
	fmt.Fprintln(w, "  approve  create <tenant> <ir_hash>")
	fmt.Fprintln(w, "  approve  consume <tenant> <ir_hash> <token>")
	fmt.Fprintln(w, "  verify   <pack.json>            verify an evidence pack's content hash")
	fmt.Fprintln(w, "  version                         print the build version")
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: orchestrator validate <ir.json>")
		return 2
	}
	plan, err := readIR(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	v := validator.New(nil)
	result, err := v.Validate(plan)
	if err != nil {
		fmt.Fprintln(stderr, "validate:", err)
		return 1
	}

	return printJSON(stdout, stderr, result)
}

func runExecute(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: orchestrator execute <graph.json> [ir.json]")
		return 2
	}

	var spec executor.GraphSpec
	if err := readJSONFile(args[0], &spec); err != nil {
		fmt.Fprintln(stderr, "reading graph spec:", err)
		return 1
	}

	req := gateway.Request{
		TenantID:       "cli",
		GraphSpec:      spec,
		Execute:        true,
		GovernanceMode: gateway.ModeOff,
	}
	if len(args) > 1 {
		plan, err := readIR(args[1])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		req.IR = plan
		req.GovernanceMode = gateway.ModeEnforced
	}

	cfg := config.Load()
	orch, sinkCleanup, err := buildOrchestrator(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "building orchestrator:", err)
		return 1
	}
	defer sinkCleanup()

	req.Policy = &governor.Policy{
		Budget:               governor.Budget{MaxSteps: 1000, StepsLimitType: governor.LimitHard},
		DryRunRespectsLimits: false,
	}
	ctx := context.Background()

	sink, err := buildEvidenceSink(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, "building evidence sink:", err)
		return 1
	}
	req.EvidenceSink = sink

	resp, err := orch.Execute(ctx, req)
	if err != nil {
		fmt.Fprintln(stderr, "execute:", err)
		return 1
	}

	broker := buildEventBroker(cfg)
	_ = broker.Publish(ctx, eventstream.New("execution.completed", "orchestrator.cli", map[string]interface{}{
		"graph_id": spec.GraphID, "status": string(resp.ExecutionResult.Status),
	}))

	return printJSON(stdout, stderr, resp)
}

func runApprove(args []string, stdout, stderr io.Writer) int {
	if len(args) < 3 {
		fmt.Fprintln(stderr, "usage: orchestrator approve <create|consume> <tenant> <ir_hash> [token]")
		return 2
	}

	cfg := config.Load()
	store, cleanup, err := buildApprovalStore(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "building approval store:", err)
		return 1
	}
	defer cleanup()

	ledger := approval.NewLedger(store, audit.NewLogger())
	ctx := context.Background()

	switch args[0] {
	case "create":
		result, err := ledger.Create(ctx, args[1], args[2], "cli", cfg.DefaultApprovalTTL)
		if err != nil {
			fmt.Fprintln(stderr, "create:", err)
			return 1
		}
		return printJSON(stdout, stderr, map[string]interface{}{
			"approval_id": result.Approval.ApprovalID, "token": result.Token, "expires_at": result.Approval.ExpiresAt,
		})
	case "consume":
		if len(args) < 4 {
			fmt.Fprintln(stderr, "usage: orchestrator approve consume <tenant> <ir_hash> <token>")
			return 2
		}
		result, err := ledger.Consume(ctx, approval.ConsumeRequest{TenantID: args[1], IRHash: args[2], Token: args[3]}, "cli")
		if err != nil {
			fmt.Fprintln(stderr, "consume:", err)
			return 1
		}
		return printJSON(stdout, stderr, result)
	default:
		fmt.Fprintln(stderr, "unknown approve subcommand:", args[0])
		return 2
	}
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: orchestrator verify <pack.json>")
		return 2
	}
	var pack evidence.Pack
	if err := readJSONFile(args[0], &pack); err != nil {
		fmt.Fprintln(stderr, "reading pack:", err)
		return 1
	}

	ok, err := evidence.Verify(&pack)
	if err != nil {
		fmt.Fprintln(stderr, "verify:", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stdout, "TAMPERED: content hash mismatch")
		return 1
	}
	fmt.Fprintln(stdout, "OK: content hash verified")
	return 0
}

func readIR(path string) (*ir.IR, error) {
	var plan ir.IR
	if err := readJSONFile(path, &plan); err != nil {
		return nil, fmt.Errorf("reading ir: %w", err)
	}
	return &plan, nil
}

func readJSONFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func printJSON(stdout, stderr io.Writer, v interface{}) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, "marshal:", err)
		return 1
	}
	fmt.Fprintln(stdout, string(b))
	return 0
}

// buildOrchestrator constructs a gateway.Orchestrator from cfg,
// following the teacher's runServer wiring style: construct stores,
// construct services, construct the orchestrator. The returned cleanup
// closes the database handles it opened (the Postgres approval store's
// and, in Lite Mode, the SQLite database's).
func buildOrchestrator(cfg *config.Config) (*gateway.Orchestrator, func(), error) {
	store, storeCleanup, err := buildApprovalStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	ledger := approval.NewLedger(store, audit.NewLogger())
	registry := node.NewRegistry()
	registry.Register("dynamic", node.NewDynamicNodeFactory(node.NoopDriver{}))

	ctx := context.Background()
	obs, err := observability.New(ctx, &observability.Config{
		ServiceName: cfg.ServiceName, ServiceVersion: cfg.ServiceVersion,
		OTLPEndpoint: cfg.OTLPEndpoint, Insecure: cfg.OTLPInsecure, Enabled: false,
		SampleRate: 1.0, BatchTimeout: 5 * time.Second,
	})
	if err != nil {
		storeCleanup()
		return nil, nil, err
	}

	cleanup := storeCleanup
	if cfg.LiteMode() {
		db, _, err := setupLiteMode(ctx, "")
		if err != nil {
			storeCleanup()
			return nil, nil, err
		}
		cleanup = func() { storeCleanup(); _ = db.Close() }
	}

	orch := gateway.New(validator.New(nil), ledger, registry, obs, audit.NewLogger())
	return orch, cleanup, nil
}

func buildApprovalStore(cfg *config.Config) (approval.Store, func(), error) {
	if cfg.RedisAddr != "" {
		store := approval.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		return store, func() {}, nil
	}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return approval.NewPostgresStore(db), func() { _ = db.Close() }, nil
	}
	return approval.NewMemoryStore(), func() {}, nil
}

// buildEvidenceSink constructs the §4.J storage sink selected by
// cfg.EvidenceSink ("file", the default; "s3"; or "gcs"), matching the
// teacher's own choice of both concrete provider clients for its
// artifact store.
func buildEvidenceSink(ctx context.Context, cfg *config.Config) (evidence.Sink, error) {
	switch cfg.EvidenceSink {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return evidence.NewS3Sink(client, cfg.EvidenceBucket, "evidence/"), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating gcs client: %w", err)
		}
		return evidence.NewGCSSink(client, cfg.EvidenceBucket, "evidence/"), nil
	default:
		return evidence.NewFileSink(cfg.EvidenceDir), nil
	}
}

// buildEventBroker constructs the §4.I broker per cfg: Redis Streams
// when configured, an in-memory ring buffer otherwise.
func buildEventBroker(cfg *config.Config) eventstream.Broker {
	if cfg.RedisAddr == "" {
		return eventstream.NewInMemoryBroker(0)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return eventstream.NewRedisBroker(client, "orchestrator:events:", 0)
}
