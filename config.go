package mailstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cockroachdb/pebble"
	"go.etcd.io/bbolt"
)

// Backend kinds accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPebble   = "pebble"
	BackendDynamoDB = "dynamodb"
)

// Config selects and configures the backend of a Store. The choice is made
// once, when the Store is opened.
type Config struct {
	Backend string

	// Path is the database file (bolt) or directory (pebble).
	Path string

	// Timeout bounds waiting for the bolt file lock.
	Timeout time.Duration

	// NoSync skips fsync on commit (bolt and pebble). Only for tests.
	NoSync bool

	DynamoDB DynamoDBConfig
}

type DynamoDBConfig struct {
	Table  string
	Region string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string

	// Client, when set, is used instead of building one from the AWS
	// default configuration.
	Client DynamoDBClient
}

// Open creates the backend described by cfg and wraps it in a Store.
func Open(ctx context.Context, cfg Config, opt Options) (*Store, error) {
	backend, err := openBackend(ctx, cfg, opt)
	if err != nil {
		return nil, internalErrf("open", nil, err, "cannot open %s backend", cfg.Backend)
	}
	s, err := NewStore(backend, cfg.Backend, opt)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

func openBackend(ctx context.Context, cfg Config, opt Options) (Backend, error) {
	switch cfg.Backend {
	case BackendMemory:
		return newLocalBackend(newMemStorage(), opt.Logger), nil

	case BackendBolt:
		if cfg.Path == "" {
			return nil, fmt.Errorf("bolt backend requires a path")
		}
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		st, err := openBoltStorage(cfg.Path, &bbolt.Options{
			Timeout: timeout,
			NoSync:  cfg.NoSync,
		})
		if err != nil {
			return nil, err
		}
		return newLocalBackend(st, opt.Logger), nil

	case BackendPebble:
		if cfg.Path == "" {
			return nil, fmt.Errorf("pebble backend requires a path")
		}
		st, err := openPebbleStorage(cfg.Path, &pebble.Options{}, !cfg.NoSync)
		if err != nil {
			return nil, err
		}
		if err := registerMetrics(opt.Registerer, newPebbleCollector(st.db)); err != nil {
			st.Close()
			return nil, err
		}
		return newLocalBackend(st, opt.Logger), nil

	case BackendDynamoDB:
		if cfg.DynamoDB.Table == "" {
			return nil, fmt.Errorf("dynamodb backend requires a table")
		}
		client := cfg.DynamoDB.Client
		if client == nil {
			awsCfg, err := loadAWSConfig(ctx, cfg.DynamoDB.Region)
			if err != nil {
				return nil, err
			}
			client = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
				if cfg.DynamoDB.Endpoint != "" {
					o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
				}
			})
		}
		return newDynamoBackend(client, cfg.DynamoDB.Table, opt.Logger), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
