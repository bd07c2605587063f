package cmd

import (
	"context"
	"fmt"
	"go/types"
	"time"

	"github.com/spf13/cobra"

	cmdUtils "github.com/bodasure/bodasure-backend/cmd/utils"
	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/crashtracker"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/events/eventhandlers"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/mobilemoney"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/internal/scheduler"
	"github.com/bodasure/bodasure-backend/internal/scheduler/jobs"
	"github.com/bodasure/bodasure-backend/internal/serve"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/internal/storage"
	"github.com/bodasure/bodasure-backend/pkg/config"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

type TearDownFunc func()

type ServeCommand struct{}

type ServerServiceInterface interface {
	StartServe(opts serve.ServeOptions, httpServer serve.HTTPServerInterface)
	StartMetricsServe(opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface)
	GetSchedulerJobRegistrars(ctx context.Context, serveOpts serve.ServeOptions) ([]scheduler.SchedulerJobRegisterOption, error)
	StartJobRunner(ctx context.Context, serveOpts serve.ServeOptions) error
	SetupConsumers(ctx context.Context, eventBrokerOptions cmdUtils.EventBrokerOptions, serveOpts serve.ServeOptions) (TearDownFunc, error)
}

type ServerService struct{}

// Making sure that ServerService implements ServerServiceInterface
var _ ServerServiceInterface = (*ServerService)(nil)

func (s *ServerService) StartServe(opts serve.ServeOptions, httpServer serve.HTTPServerInterface) {
	err := serve.Serve(opts, httpServer)
	if err != nil {
		log.Fatalf("Error starting server: %s", err.Error())
	}
}

func (s *ServerService) StartMetricsServe(opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface) {
	err := serve.MetricsServe(opts, httpServer)
	if err != nil {
		log.Fatalf("Error starting metrics server: %s", err.Error())
	}
}

// workerServices rebuilds the service graph against a dedicated DB connection
// pool, so the scheduler, the job runner and the Kafka consumers do not share
// the pool owned by the HTTP server.
type workerServices struct {
	models              *data.Models
	jobQueue            *jobqueue.Queue
	notificationService services.NotificationServiceInterface
	issuanceService     services.IssuanceServiceInterface
	paymentService      services.PaymentServiceInterface
	batchService        services.BatchServiceInterface
	lifecycleService    services.PolicyLifecycleServiceInterface
	certificateService  services.CertificateServiceInterface
}

func buildWorkerServices(serveOpts serve.ServeOptions) (*workerServices, error) {
	dbConnectionPool, err := db.OpenDBConnectionPool(globalOptions.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening DB connection pool for background services: %w", err)
	}

	models, err := data.NewModels(dbConnectionPool)
	if err != nil {
		return nil, fmt.Errorf("creating models for background services: %w", err)
	}

	jobQueue, err := jobqueue.NewQueue(dbConnectionPool)
	if err != nil {
		return nil, fmt.Errorf("creating job queue for background services: %w", err)
	}

	notificationService, err := services.NewNotificationService(services.NotificationServiceOptions{
		Models:                 models,
		Dispatcher:             serveOpts.MessageDispatcher,
		MonitorService:         serveOpts.MonitorService,
		Location:               serveOpts.Location,
		QuietHoursStartMinutes: serveOpts.QuietHoursStartMinutes,
		QuietHoursEndMinutes:   serveOpts.QuietHoursEndMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating notification service for background services: %w", err)
	}

	ledgerService, err := services.NewLedgerService(models, serveOpts.MonitorService, serveOpts.PlatformCommissionPercent)
	if err != nil {
		return nil, fmt.Errorf("creating ledger service for background services: %w", err)
	}

	issuanceService, err := services.NewIssuanceService(models, 0)
	if err != nil {
		return nil, fmt.Errorf("creating issuance service for background services: %w", err)
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceOptions{
		Models:              models,
		Gateway:             serveOpts.Gateway,
		JobQueue:            jobQueue,
		EventProducer:       serveOpts.EventProducer,
		LedgerService:       ledgerService,
		IssuanceService:     issuanceService,
		NotificationService: notificationService,
		MonitorService:      serveOpts.MonitorService,
	})
	if err != nil {
		return nil, fmt.Errorf("creating payment service for background services: %w", err)
	}

	batchService, err := services.NewBatchService(services.BatchServiceOptions{
		Models:              models,
		JobQueue:            jobQueue,
		EventProducer:       serveOpts.EventProducer,
		LedgerService:       ledgerService,
		NotificationService: notificationService,
		MonitorService:      serveOpts.MonitorService,
		Location:            serveOpts.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("creating batch service for background services: %w", err)
	}

	lifecycleService, err := services.NewPolicyLifecycleService(services.PolicyLifecycleServiceOptions{
		Models:              models,
		JobQueue:            jobQueue,
		NotificationService: notificationService,
		Location:            serveOpts.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("creating policy lifecycle service for background services: %w", err)
	}

	certificateService, err := services.NewCertificateService(models, serveOpts.Storage, serveOpts.UnderwriterName, serveOpts.Location)
	if err != nil {
		return nil, fmt.Errorf("creating certificate service for background services: %w", err)
	}

	return &workerServices{
		models:              models,
		jobQueue:            jobQueue,
		notificationService: notificationService,
		issuanceService:     issuanceService,
		paymentService:      paymentService,
		batchService:        batchService,
		lifecycleService:    lifecycleService,
		certificateService:  certificateService,
	}, nil
}

func (s *ServerService) GetSchedulerJobRegistrars(ctx context.Context, serveOpts serve.ServeOptions) ([]scheduler.SchedulerJobRegisterOption, error) {
	workers, err := buildWorkerServices(serveOpts)
	if err != nil {
		return nil, fmt.Errorf("building services for the Job Scheduler: %w", err)
	}

	return []scheduler.SchedulerJobRegisterOption{
		scheduler.WithPolicyBatchJobOption(workers.batchService, serveOpts.Location),
		scheduler.WithScheduledNotificationsJobOption(workers.models, workers.jobQueue),
		scheduler.WithNotificationExpiryJobOption(workers.models, jobs.DefaultNotificationTTL),
		scheduler.WithPaymentExpiryJobOption(workers.paymentService),
		scheduler.WithPolicyExpiryJobOption(workers.lifecycleService),
	}, nil
}

// StartJobRunner starts the durable job queue runner in the background. The
// runner leases jobs enqueued by the HTTP handlers and the scheduler.
func (s *ServerService) StartJobRunner(ctx context.Context, serveOpts serve.ServeOptions) error {
	workers, err := buildWorkerServices(serveOpts)
	if err != nil {
		return fmt.Errorf("building services for the Job Runner: %w", err)
	}

	runner, err := jobqueue.NewRunner(jobqueue.RunnerOptions{
		Queue:              workers.jobQueue,
		CrashTrackerClient: serveOpts.CrashTrackerClient.Clone(),
		MonitorService:     serveOpts.MonitorService,
	})
	if err != nil {
		return fmt.Errorf("creating the Job Runner: %w", err)
	}

	reconcileHandler, err := services.NewReconcilePaymentJobHandler(workers.paymentService)
	if err != nil {
		return fmt.Errorf("creating the reconcile payment job handler: %w", err)
	}
	certificateHandler, err := services.NewGenerateCertificateJobHandler(workers.certificateService)
	if err != nil {
		return fmt.Errorf("creating the generate certificate job handler: %w", err)
	}
	notificationHandler, err := services.NewSendNotificationJobHandler(workers.models, workers.notificationService, workers.certificateService)
	if err != nil {
		return fmt.Errorf("creating the send notification job handler: %w", err)
	}
	for _, handler := range []jobqueue.Handler{reconcileHandler, certificateHandler, notificationHandler} {
		if err = runner.RegisterHandler(handler); err != nil {
			return fmt.Errorf("registering job handler: %w", err)
		}
	}

	go runner.Run(ctx)
	return nil
}

func (s *ServerService) SetupConsumers(ctx context.Context, eventBrokerOptions cmdUtils.EventBrokerOptions, serveOpts serve.ServeOptions) (TearDownFunc, error) {
	workers, err := buildWorkerServices(serveOpts)
	if err != nil {
		return nil, fmt.Errorf("building services for the Kafka consumers: %w", err)
	}

	paymentSettledHandler, err := eventhandlers.NewPaymentSettledEventHandler(workers.models, workers.issuanceService)
	if err != nil {
		return nil, fmt.Errorf("creating the payment settled event handler: %w", err)
	}
	paymentSettledConsumer, err := events.NewKafkaConsumer(
		cmdUtils.KafkaConfig(eventBrokerOptions),
		events.PaymentSettledTopic,
		eventBrokerOptions.ConsumerGroupID,
		paymentSettledHandler,
	)
	if err != nil {
		return nil, fmt.Errorf("creating the Payment Settled Kafka consumer: %w", err)
	}

	policyActivatedHandler, err := eventhandlers.NewPolicyActivatedEventHandler(workers.models, workers.jobQueue)
	if err != nil {
		return nil, fmt.Errorf("creating the policy activated event handler: %w", err)
	}
	policyActivatedConsumer, err := events.NewKafkaConsumer(
		cmdUtils.KafkaConfig(eventBrokerOptions),
		events.PolicyActivatedTopic,
		eventBrokerOptions.ConsumerGroupID,
		policyActivatedHandler,
	)
	if err != nil {
		return nil, fmt.Errorf("creating the Policy Activated Kafka consumer: %w", err)
	}

	go events.NewEventConsumer(paymentSettledConsumer, serveOpts.EventProducer, serveOpts.CrashTrackerClient.Clone()).Consume(ctx)
	go events.NewEventConsumer(policyActivatedConsumer, serveOpts.EventProducer, serveOpts.CrashTrackerClient.Clone()).Consume(ctx)

	return TearDownFunc(func() {
		if closeErr := paymentSettledConsumer.Close(); closeErr != nil {
			log.Ctx(ctx).Errorf("closing Payment Settled Kafka consumer: %v", closeErr)
		}
		if closeErr := policyActivatedConsumer.Close(); closeErr != nil {
			log.Ctx(ctx).Errorf("closing Policy Activated Kafka consumer: %v", closeErr)
		}
	}), nil
}

// buildMessageDispatcher builds the per-channel dispatcher from the routing
// options. A channel is registered only when a primary provider is configured.
func buildMessageDispatcher(
	ctx context.Context,
	routingOptions cmdUtils.ChannelRoutingOptions,
	messengerOptions message.MessengerOptions,
	dispatcherOptions message.DispatcherOptions,
) (*message.MessageDispatcher, error) {
	dispatcher := message.NewMessageDispatcher(dispatcherOptions)

	registerChannel := func(channel message.MessageChannel, primaryType, fallbackType message.MessengerType) error {
		primary, err := message.GetClient(primaryType, messengerOptions)
		if err != nil {
			return fmt.Errorf("creating primary %s client: %w", channel, err)
		}
		var fallback message.MessengerClient
		if fallbackType != "" {
			fallback, err = message.GetClient(fallbackType, messengerOptions)
			if err != nil {
				return fmt.Errorf("creating fallback %s client: %w", channel, err)
			}
		}
		dispatcher.RegisterChannel(ctx, channel, primary, fallback)
		return nil
	}

	if err := registerChannel(message.MessageChannelSMS, routingOptions.SMSPrimaryType, routingOptions.SMSFallbackType); err != nil {
		return nil, err
	}
	if routingOptions.WhatsAppPrimaryType != "" {
		if err := registerChannel(message.MessageChannelWhatsApp, routingOptions.WhatsAppPrimaryType, ""); err != nil {
			return nil, err
		}
	}
	if routingOptions.EmailPrimaryType != "" {
		if err := registerChannel(message.MessageChannelEmail, routingOptions.EmailPrimaryType, routingOptions.EmailFallbackType); err != nil {
			return nil, err
		}
	}

	return dispatcher, nil
}

// storageConfig holds the certificate storage selection.
type storageConfig struct {
	StorageType   storage.StorageType
	S3Bucket      string
	BasePath      string
	URLSigningKey string
}

func (c *ServeCommand) Command(serverService ServerServiceInterface, monitorService monitor.MonitorServiceInterface) *cobra.Command {
	serveOpts := serve.ServeOptions{}
	schedulerEnabled := false

	configOpts := config.ConfigOptions{
		{
			Name:        "port",
			Usage:       "Port where the server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.Port,
			FlagDefault: 8000,
			Required:    true,
		},
		{
			Name:           "cors-allowed-origins",
			Usage:          `Cors URLs that are allowed to access the endpoints, separated by ","`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetCorsAllowedOrigins,
			ConfigKey:      &serveOpts.CorsAllowedOrigins,
			FlagDefault:    "http://localhost:3000",
			Required:       true,
		},
		{
			Name:        "underwriter-name",
			Usage:       "Name of the licensed underwriter printed on policy certificates",
			OptType:     types.String,
			ConfigKey:   &serveOpts.UnderwriterName,
			FlagDefault: "BodaSure Underwriting Ltd",
			Required:    true,
		},
		{
			Name:        "default-phone-region",
			Usage:       "ISO 3166-1 alpha-2 region used to parse phone numbers with no country prefix",
			OptType:     types.String,
			ConfigKey:   &serveOpts.DefaultPhoneRegion,
			FlagDefault: "KE",
			Required:    true,
		},
		{
			Name:           "time-zone",
			Usage:          "IANA time zone used for rider-facing dates, batch windows and quiet hours",
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionTimeLocation,
			ConfigKey:      &serveOpts.Location,
			FlagDefault:    "Africa/Nairobi",
			Required:       true,
		},
		{
			Name:           "quiet-hours-start",
			Usage:          "Start of the nightly quiet window (HH:MM wall clock) during which non-urgent notifications are held",
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMinutesSinceMidnight,
			ConfigKey:      &serveOpts.QuietHoursStartMinutes,
			FlagDefault:    "22:00",
			Required:       true,
		},
		{
			Name:           "quiet-hours-end",
			Usage:          "End of the nightly quiet window (HH:MM wall clock)",
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMinutesSinceMidnight,
			ConfigKey:      &serveOpts.QuietHoursEndMinutes,
			FlagDefault:    "06:00",
			Required:       true,
		},
		{
			Name:           "platform-commission-percent",
			Usage:          "Percentage of each settled premium recognized as platform commission",
			OptType:        types.Int,
			CustomSetValue: cmdUtils.SetConfigOptionPercent,
			ConfigKey:      &serveOpts.PlatformCommissionPercent,
			FlagDefault:    20,
			Required:       true,
		},
		{
			Name:        "free-look-days",
			Usage:       "Days after policy issuance during which a cancellation refunds without the reversal fee",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.FreeLookDays,
			FlagDefault: 30,
			Required:    true,
		},
		{
			Name:           "reversal-fee-percent",
			Usage:          "Percentage fee withheld from refunds after the free-look window",
			OptType:        types.Int,
			CustomSetValue: cmdUtils.SetConfigOptionPercent,
			ConfigKey:      &serveOpts.ReversalFeePercent,
			FlagDefault:    10,
			Required:       true,
		},
		{
			Name:           "certificate-url-ttl",
			Usage:          `Validity of signed certificate download URLs, as a Go duration (e.g. "24h")`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionDuration,
			ConfigKey:      &serveOpts.CertificateURLTTL,
			FlagDefault:    "24h",
			Required:       true,
		},
		{
			Name:        "scheduler-enabled",
			Usage:       "Enable the in-process scheduler for recurring background jobs",
			OptType:     types.Bool,
			ConfigKey:   &schedulerEnabled,
			FlagDefault: true,
			Required:    false,
		},
	}

	// crash tracker options
	crashTrackerOptions := crashtracker.CrashTrackerOptions{}
	configOpts = append(configOpts, cmdUtils.CrashTrackerTypeConfigOption(&crashTrackerOptions.CrashTrackerType))

	// metrics server options
	metricsServeOpts := serve.MetricsServeOptions{}
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:           "metrics-type",
			Usage:          `Metric monitor type. Options: "PROMETHEUS"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMetricType,
			ConfigKey:      &metricsServeOpts.MetricType,
			FlagDefault:    "PROMETHEUS",
			Required:       true,
		},
		&config.ConfigOption{
			Name:        "metrics-port",
			Usage:       "Port where the metrics server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &metricsServeOpts.Port,
			FlagDefault: 8002,
			Required:    true,
		})

	// mobile-money gateway options
	mobileMoneyOptions := cmdUtils.MobileMoneyOptions{}
	configOpts = append(configOpts, cmdUtils.MobileMoneyConfigOptions(&mobileMoneyOptions)...)

	// messenger config options
	messengerOptions := message.MessengerOptions{}
	configOpts = append(configOpts, cmdUtils.TwilioConfigOptions(&messengerOptions)...)
	configOpts = append(configOpts, cmdUtils.AfricasTalkingConfigOptions(&messengerOptions)...)
	configOpts = append(configOpts, cmdUtils.SendGridConfigOptions(&messengerOptions)...)
	configOpts = append(configOpts, cmdUtils.AWSConfigOptions(&messengerOptions)...)

	// channel routing + dispatcher retry knobs
	routingOptions := cmdUtils.ChannelRoutingOptions{}
	configOpts = append(configOpts, cmdUtils.ChannelRoutingConfigOptions(&routingOptions)...)
	dispatcherOptions := message.DispatcherOptions{}
	smsRetryDelayMs := 0
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:        "sms-max-retries",
			Usage:       "Maximum delivery attempts per provider before the dispatcher fails over",
			OptType:     types.Int,
			ConfigKey:   &dispatcherOptions.MaxRetries,
			FlagDefault: message.DefaultMaxRetries,
			Required:    false,
		},
		&config.ConfigOption{
			Name:        "sms-retry-delay-ms",
			Usage:       "Base delay in milliseconds between delivery retries (doubles per attempt)",
			OptType:     types.Int,
			ConfigKey:   &smsRetryDelayMs,
			FlagDefault: 500,
			Required:    false,
		})

	// event broker options
	eventBrokerOptions := cmdUtils.EventBrokerOptions{}
	configOpts = append(configOpts, cmdUtils.EventBrokerConfigOptions(&eventBrokerOptions)...)

	// certificate storage options
	storageOptions := storageConfig{}
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:           "storage-type",
			Usage:          `Certificate storage backend. Options: "S3", "FILESYSTEM"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionStorageType,
			ConfigKey:      &storageOptions.StorageType,
			FlagDefault:    string(storage.StorageTypeFilesystem),
			Required:       true,
		},
		&config.ConfigOption{
			Name:      "s3-bucket",
			Usage:     "S3 bucket holding policy certificates, required when the storage type is S3",
			OptType:   types.String,
			ConfigKey: &storageOptions.S3Bucket,
			Required:  false,
		},
		&config.ConfigOption{
			Name:        "storage-base-path",
			Usage:       "Directory holding policy certificates when the storage type is FILESYSTEM",
			OptType:     types.String,
			ConfigKey:   &storageOptions.BasePath,
			FlagDefault: "data/certificates",
			Required:    false,
		},
		&config.ConfigOption{
			Name:      "certificate-url-signing-key",
			Usage:     "HMAC secret signing filesystem certificate download URLs, required when the storage type is FILESYSTEM",
			OptType:   types.String,
			ConfigKey: &storageOptions.URLSigningKey,
			Required:  false,
		})

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the BodaSure API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)

			// Validate & ingest input parameters
			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Fatalf("Error setting values of config options: %s", err.Error())
			}

			// Initializing monitor service
			metricOptions := monitor.MetricOptions{
				MetricType:  metricsServeOpts.MetricType,
				Environment: globalOptions.Environment,
			}

			err = monitorService.Start(metricOptions)
			if err != nil {
				log.Fatalf("Error creating monitor service: %s", err.Error())
			}

			// Inject crash tracker options dependencies
			globalOptions.PopulateCrashTrackerOptions(&crashTrackerOptions)

			// Inject server dependencies
			serveOpts.Environment = globalOptions.Environment
			serveOpts.GitCommit = globalOptions.GitCommit
			serveOpts.DatabaseDSN = globalOptions.DatabaseURL
			serveOpts.Version = globalOptions.Version
			serveOpts.MonitorService = monitorService
			messengerOptions.Environment = globalOptions.Environment

			// Inject metrics server dependencies
			metricsServeOpts.MonitorService = monitorService
			metricsServeOpts.Environment = globalOptions.Environment
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()

			// Setup the crash tracker client
			crashTrackerClient, err := crashtracker.GetClient(ctx, crashTrackerOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating crash tracker client: %s", err.Error())
			}
			serveOpts.CrashTrackerClient = crashTrackerClient

			// Setup the message dispatcher
			dispatcherOptions.RetryBaseDelay = time.Duration(smsRetryDelayMs) * time.Millisecond
			serveOpts.MessageDispatcher, err = buildMessageDispatcher(ctx, routingOptions, messengerOptions, dispatcherOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating message dispatcher: %s", err.Error())
			}

			// Setup the mobile-money gateway client
			serveOpts.Gateway = mobilemoney.NewClient(mobileMoneyOptions.BaseURL, mobileMoneyOptions.APIKey, mobileMoneyOptions.MerchantShortCode)

			// Setup certificate storage
			switch storageOptions.StorageType {
			case storage.StorageTypeS3:
				serveOpts.Storage, err = storage.NewS3Client(messengerOptions.AWSAccessKeyID, messengerOptions.AWSSecretAccessKey, messengerOptions.AWSRegion, storageOptions.S3Bucket)
				if err != nil {
					log.Ctx(ctx).Fatalf("error creating S3 storage client: %s", err.Error())
				}
			case storage.StorageTypeFilesystem:
				fsClient, fsErr := storage.NewFilesystemClient(storageOptions.BasePath, storageOptions.URLSigningKey, globalOptions.BaseURL)
				if fsErr != nil {
					log.Ctx(ctx).Fatalf("error creating filesystem storage client: %s", fsErr.Error())
				}
				serveOpts.Storage = fsClient
				serveOpts.FilesystemStorage = fsClient
			}

			// Kafka (background)
			if eventBrokerOptions.EventBrokerType == events.KafkaEventBrokerType {
				kafkaProducer, err := events.NewKafkaProducer(cmdUtils.KafkaConfig(eventBrokerOptions))
				if err != nil {
					log.Ctx(ctx).Fatalf("error creating Kafka producer: %v", err)
				}
				defer kafkaProducer.Close(ctx)
				serveOpts.EventProducer = kafkaProducer

				tearDownFunc, err := serverService.SetupConsumers(ctx, eventBrokerOptions, serveOpts)
				if err != nil {
					log.Ctx(ctx).Fatalf("error setting up consumers: %v", err)
				}
				defer tearDownFunc()
			} else {
				log.Ctx(ctx).Warn("Event Broker Type is NONE.")
				serveOpts.EventProducer = events.NoopProducer{}
			}

			// Starting Scheduler Service (background job) if enabled
			if schedulerEnabled {
				log.Ctx(ctx).Info("Starting Scheduler Service...")
				schedulerJobRegistrars, innerErr := serverService.GetSchedulerJobRegistrars(ctx, serveOpts)
				if innerErr != nil {
					log.Ctx(ctx).Fatalf("Error getting scheduler job registrars: %v", innerErr)
				}
				go scheduler.StartScheduler(crashTrackerClient.Clone(), schedulerJobRegistrars...)
			} else {
				log.Ctx(ctx).Warn("Scheduler Service is disabled.")
			}

			// Starting Job Runner (background)
			log.Ctx(ctx).Info("Starting Job Runner...")
			err = serverService.StartJobRunner(ctx, serveOpts)
			if err != nil {
				log.Ctx(ctx).Fatalf("Error starting job runner: %v", err)
			}

			// Starting Metrics Server (background)
			log.Ctx(ctx).Info("Starting Metrics Server...")
			go serverService.StartMetricsServe(metricsServeOpts, &serve.HTTPServer{})

			// Starting Application Server
			log.Ctx(ctx).Info("Starting Application Server...")
			serverService.StartServe(serveOpts, &serve.HTTPServer{})
		},
	}
	err := configOpts.Init(cmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}

	return cmd
}
