package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/svirmi/lifejar-payments/internal/events"
	"github.com/svirmi/lifejar-payments/internal/gateway"
	"github.com/svirmi/lifejar-payments/internal/helpers"
	"github.com/svirmi/lifejar-payments/internal/ledger"
	"github.com/svirmi/lifejar-payments/internal/repository"
	"github.com/svirmi/lifejar-payments/internal/service"
)

type config struct {
	port            string
	env             string
	debug           bool
	shutdownTimeout time.Duration
	storeBackend    string
	db              helpers.DBConfig
	dynamoRegion    string
	dynamoEndpoint  string
	dynamoTables    repository.DynamoTables
	rabbitURL       string
	rabbitExchange  string
	rabbitQueue     string
	webhookSecret   string
	gateway         gateway.Config
	ledgerTimeout   time.Duration
}

type application struct {
	config     config
	logger     *slog.Logger
	store      repository.Store
	publisher  events.Publisher
	jars       *service.JarService
	payments   *service.PaymentService
	webhooks   *service.WebhookService
	closers    []func()
	migrations func(ctx context.Context) error
}

// loadConfig reads the optional YAML file first and lets environment
// variables override it.
func loadConfig(path string) (config, error) {
	file, err := helpers.LoadConfigFile(path)
	if err != nil {
		return config{}, err
	}
	cfg := config{}

	cfg.port = helpers.GetEnvAsStr("PORT", helpers.Or(file.Port, "8080"))
	cfg.env = helpers.GetEnvAsStr("ENV", helpers.Or(file.Env, "development"))
	cfg.debug = helpers.GetEnvAsBool("DEBUG", file.Debug)
	cfg.shutdownTimeout = helpers.GetEnvAsDuration("SHUTDOWN_TIMEOUT", helpers.Or(file.ShutdownTimeout, 30*time.Second))
	cfg.storeBackend = helpers.GetEnvAsStr("STORE_BACKEND", helpers.Or(file.StoreBackend, "postgres"))

	cfg.db.Host = helpers.GetEnvAsStr("DB_HOST", helpers.Or(file.DB.Host, "postgres"))
	cfg.db.Port = helpers.GetEnvAsStr("DB_PORT", helpers.Or(file.DB.Port, "5432"))
	cfg.db.User = helpers.GetEnvAsStr("DB_USER", helpers.Or(file.DB.User, "postgres"))
	cfg.db.Password = helpers.GetEnvAsStr("DB_PASSWORD", helpers.Or(file.DB.Password, "postgres"))
	cfg.db.Name = helpers.GetEnvAsStr("DB_NAME", helpers.Or(file.DB.Name, "lifejar"))

	cfg.dynamoRegion = helpers.GetEnvAsStr("AWS_REGION", helpers.Or(file.DynamoDB.Region, "us-east-1"))
	cfg.dynamoEndpoint = helpers.GetEnvAsStr("DYNAMODB_ENDPOINT", file.DynamoDB.Endpoint)
	cfg.dynamoTables = repository.DynamoTables{
		Jars:            helpers.GetEnvAsStr("DYNAMODB_JARS_TABLE", helpers.Or(file.DynamoDB.JarsTable, "jars")),
		Contributions:   helpers.GetEnvAsStr("DYNAMODB_CONTRIBUTIONS_TABLE", helpers.Or(file.DynamoDB.ContributionsTable, "contributions")),
		PendingPayments: helpers.GetEnvAsStr("DYNAMODB_PAYMENTS_TABLE", helpers.Or(file.DynamoDB.PaymentsTable, "pending_payments")),
	}

	cfg.rabbitURL = helpers.GetEnvAsStr("RABBITMQ_URL", file.RabbitMQ.URL)
	cfg.rabbitExchange = helpers.GetEnvAsStr("RABBITMQ_EXCHANGE", helpers.Or(file.RabbitMQ.Exchange, "jarpay.ledger"))
	cfg.rabbitQueue = helpers.GetEnvAsStr("RABBITMQ_QUEUE", helpers.Or(file.RabbitMQ.Queue, "ledger_events"))
	cfg.webhookSecret = helpers.GetEnvAsStr("WEBHOOK_SECRET", file.Webhook.Secret)

	g := file.Gateway
	apiBase := helpers.GetEnvAsStr("API_BASE_URL", helpers.Or(g.APIBaseURL, "http://localhost:"+cfg.port))
	cfg.gateway = gateway.Config{
		PayHeroBaseURL:        helpers.GetEnvAsStr("PAYHERO_BASE_URL", g.PayHeroBaseURL),
		PayHeroAuthToken:      helpers.GetEnvAsStr("PAYHERO_AUTH_TOKEN", g.PayHeroAuthToken),
		PayHeroChannelID:      helpers.GetEnvAsInt("PAYHERO_CHANNEL_ID", g.PayHeroChannelID),
		PesapalBaseURL:        helpers.GetEnvAsStr("PESAPAL_API_URL", g.PesapalBaseURL),
		PesapalConsumerKey:    helpers.GetEnvAsStr("PESAPAL_CONSUMER_KEY", g.PesapalConsumerKey),
		PesapalConsumerSecret: helpers.GetEnvAsStr("PESAPAL_CONSUMER_SECRET", g.PesapalConsumerSecret),
		PesapalIPNID:          helpers.GetEnvAsStr("PESAPAL_IPN_ID", g.PesapalIPNID),
		CallbackURL:           apiBase + "/api/payments/webhook",
		Timeout:               helpers.GetEnvAsDuration("GATEWAY_TIMEOUT", helpers.Or(g.Timeout, 30*time.Second)),
	}
	cfg.ledgerTimeout = helpers.GetEnvAsDuration("LEDGER_TIMEOUT", helpers.Or(file.LedgerTimeout, 10*time.Second))

	return cfg, nil
}

func newApplication(ctx context.Context, cfg config) (*application, error) {
	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	app := &application{config: cfg, logger: logger}

	if err := app.openStore(ctx); err != nil {
		app.close()
		return nil, err
	}
	app.openPublisher()

	gw := gateway.NewHTTPClient(cfg.gateway, logger)
	app.wire(gw)
	return app, nil
}

// wire builds the services on top of the store and publisher.
func (app *application) wire(gw gateway.Client) {
	l := ledger.New(app.store, app.publisher, app.logger, ledger.WithOperationTimeout(app.config.ledgerTimeout))
	verifier := service.NewSignatureVerifier(app.config.webhookSecret, app.config.env, app.logger)

	app.jars = service.NewJarService(app.store, l)
	app.payments = service.NewPaymentService(app.store, gw, app.logger, app.config.gateway.Timeout)
	app.webhooks = service.NewWebhookService(app.store, l, verifier, app.publisher, app.logger)
}

func (app *application) openStore(ctx context.Context) error {
	switch app.config.storeBackend {
	case "postgres":
		db, err := helpers.OpenDB(app.config.db, app.logger)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, func() { db.Close() })
		app.store = repository.NewPostgresStore(db)
		app.migrations = func(context.Context) error { return helpers.RunMigrations(db, app.logger) }

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(app.config.dynamoRegion))
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		endpoint := app.config.dynamoEndpoint
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		store := repository.NewDynamoStore(client, app.config.dynamoTables)
		app.store = store
		app.migrations = store.CreateTables

	case "memory":
		app.store = repository.NewMemoryStore()
		app.migrations = func(context.Context) error { return nil }

	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", app.config.storeBackend)
	}
	app.logger.Info("store ready", "backend", app.config.storeBackend)
	return nil
}

func (app *application) openPublisher() {
	if app.config.rabbitURL == "" {
		app.publisher = events.NewLogPublisher(app.logger)
		return
	}
	pub, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
		URL:      app.config.rabbitURL,
		Exchange: app.config.rabbitExchange,
		Queue:    app.config.rabbitQueue,
	}, app.logger)
	if err != nil {
		app.logger.Error("rabbitmq unavailable, logging events instead", "error", err)
		app.publisher = events.NewLogPublisher(app.logger)
		return
	}
	app.closers = append(app.closers, pub.Close)
	app.publisher = pub
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
}

func (app *application) addr() string {
	if _, err := strconv.Atoi(app.config.port); err == nil {
		return ":" + app.config.port
	}
	return app.config.port
}
