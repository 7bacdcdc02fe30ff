package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port                  string        `env:"AITRACE_PORT,default=9180"`
	DBPath                string        `env:"AITRACE_DB_PATH,default=/data/aitrace.db"`
	LogLevel              string        `env:"AITRACE_LOG_LEVEL,default=info"`
	BundleRoot            string        `env:"AITRACE_BUNDLE_ROOT,default=/data/ai-logs"`
	ModelConfigPath       string        `env:"AITRACE_MODEL_CONFIG,default=/etc/aitrace/models.yaml"`
	NATSURL               string        `env:"AITRACE_NATS_URL"`
	NATSSubjectPrefix     string        `env:"AITRACE_NATS_SUBJECT_PREFIX,default=aitrace.logs"`
	MaxAttempts           int           `env:"AITRACE_MAX_ATTEMPTS,default=2"`
	BackoffBase           time.Duration `env:"AITRACE_BACKOFF_BASE,default=500ms"`
	DeadlineBuffer        time.Duration `env:"AITRACE_DEADLINE_BUFFER,default=5s"`
	BundleQueueCapacity   int           `env:"AITRACE_BUNDLE_QUEUE_CAPACITY,default=256"`
	MaxErrorBytes         int           `env:"AITRACE_MAX_ERROR_BYTES,default=2048"`
	WALCheckpointInterval time.Duration `env:"AITRACE_WAL_CHECKPOINT_INTERVAL,default=10m"`
	SessionSendQueue      int           `env:"AITRACE_SESSION_SEND_QUEUE,default=64"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "aitrace %s\n\n", version)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  AITRACE_PORT=9180")
	fmt.Fprintln(w, "  AITRACE_DB_PATH=/data/aitrace.db")
	fmt.Fprintln(w, "  AITRACE_LOG_LEVEL=info")
	fmt.Fprintln(w, "  AITRACE_BUNDLE_ROOT=/data/ai-logs")
	fmt.Fprintln(w, "  AITRACE_MODEL_CONFIG=/etc/aitrace/models.yaml")
	fmt.Fprintln(w, "  AITRACE_NATS_URL=")
	fmt.Fprintln(w, "  AITRACE_NATS_SUBJECT_PREFIX=aitrace.logs")
	fmt.Fprintln(w, "  AITRACE_MAX_ATTEMPTS=2")
	fmt.Fprintln(w, "  AITRACE_BACKOFF_BASE=500ms")
	fmt.Fprintln(w, "  AITRACE_DEADLINE_BUFFER=5s")
	fmt.Fprintln(w, "  AITRACE_BUNDLE_QUEUE_CAPACITY=256")
	fmt.Fprintln(w, "  AITRACE_MAX_ERROR_BYTES=2048")
	fmt.Fprintln(w, "  AITRACE_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w, "  AITRACE_SESSION_SEND_QUEUE=64")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --help")
	fmt.Fprintln(w, "  --version")
}
