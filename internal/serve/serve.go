package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/crashtracker"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/mobilemoney"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httphandler"
	"github.com/bodasure/bodasure-backend/internal/serve/middleware"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/internal/storage"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const ServiceID = "serve"

// publicRateLimit caps unauthenticated traffic per client IP. Webhook
// providers retry politely; anything past this is noise.
const (
	publicRateLimit       = 100
	publicRateLimitWindow = time.Minute
)

type ServeOptions struct {
	Environment        string
	GitCommit          string
	Port               int
	Version            string
	MonitorService     monitor.MonitorServiceInterface
	DatabaseDSN        string
	CorsAllowedOrigins []string
	CrashTrackerClient crashtracker.CrashTrackerClient

	Gateway           mobilemoney.ClientInterface
	MessageDispatcher message.MessageDispatcherInterface
	EventProducer     events.Producer
	Storage           storage.Storage
	// FilesystemStorage is set when STORAGE_TYPE=FILESYSTEM; it backs the
	// public certificate download route. With S3 the signed URLs point at the
	// bucket and the route is not mounted.
	FilesystemStorage *storage.FilesystemClient

	Location                  *time.Location
	UnderwriterName           string
	DefaultPhoneRegion        string
	QuietHoursStartMinutes    int
	QuietHoursEndMinutes      int
	PlatformCommissionPercent int
	FreeLookDays              int
	ReversalFeePercent        int
	CertificateURLTTL         time.Duration

	dbConnectionPool    db.DBConnectionPool
	Models              *data.Models
	jobQueue            *jobqueue.Queue
	paymentService      services.PaymentServiceInterface
	batchService        services.BatchServiceInterface
	cancellationService services.PolicyCancellationServiceInterface
	certificateService  services.CertificateServiceInterface
	riderImportService  services.RiderImportServiceInterface
}

// SetupDependencies uses the serve options to setup the dependencies for the server.
func (opts *ServeOptions) SetupDependencies() error {
	// Setup crash tracker:
	// Call crash tracker FlushEvents to flush buffered events before the server terminates
	defer opts.CrashTrackerClient.FlushEvents(2 * time.Second)
	// Call crash tracker Recover for recover from unhandled panics
	defer opts.CrashTrackerClient.Recover()
	// Set crash tracker LogAndReportErrors as DefaultReportErrorFunc
	httperror.SetDefaultReportErrorFunc(opts.CrashTrackerClient.LogAndReportErrors)

	// Setup Database:
	dbConnectionPool, err := db.OpenDBConnectionPoolWithMetrics(context.Background(), opts.DatabaseDSN, opts.MonitorService)
	if err != nil {
		return fmt.Errorf("error connecting to the database: %w", err)
	}
	opts.Models, err = data.NewModels(dbConnectionPool)
	if err != nil {
		return fmt.Errorf("error creating models for Serve: %w", err)
	}
	opts.dbConnectionPool = dbConnectionPool

	opts.jobQueue, err = jobqueue.NewQueue(dbConnectionPool)
	if err != nil {
		return fmt.Errorf("error creating the job queue: %w", err)
	}

	notificationService, err := services.NewNotificationService(services.NotificationServiceOptions{
		Models:                 opts.Models,
		Dispatcher:             opts.MessageDispatcher,
		MonitorService:         opts.MonitorService,
		Location:               opts.Location,
		QuietHoursStartMinutes: opts.QuietHoursStartMinutes,
		QuietHoursEndMinutes:   opts.QuietHoursEndMinutes,
	})
	if err != nil {
		return fmt.Errorf("error creating the notification service: %w", err)
	}

	ledgerService, err := services.NewLedgerService(opts.Models, opts.MonitorService, opts.PlatformCommissionPercent)
	if err != nil {
		return fmt.Errorf("error creating the ledger service: %w", err)
	}

	issuanceService, err := services.NewIssuanceService(opts.Models, 0)
	if err != nil {
		return fmt.Errorf("error creating the issuance service: %w", err)
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceOptions{
		Models:              opts.Models,
		Gateway:             opts.Gateway,
		JobQueue:            opts.jobQueue,
		EventProducer:       opts.EventProducer,
		LedgerService:       ledgerService,
		IssuanceService:     issuanceService,
		NotificationService: notificationService,
		MonitorService:      opts.MonitorService,
	})
	if err != nil {
		return fmt.Errorf("error creating the payment service: %w", err)
	}
	opts.paymentService = paymentService

	batchService, err := services.NewBatchService(services.BatchServiceOptions{
		Models:              opts.Models,
		JobQueue:            opts.jobQueue,
		EventProducer:       opts.EventProducer,
		LedgerService:       ledgerService,
		NotificationService: notificationService,
		MonitorService:      opts.MonitorService,
		Location:            opts.Location,
	})
	if err != nil {
		return fmt.Errorf("error creating the batch service: %w", err)
	}
	opts.batchService = batchService

	cancellationService, err := services.NewPolicyCancellationService(services.PolicyCancellationServiceOptions{
		Models:              opts.Models,
		JobQueue:            opts.jobQueue,
		Gateway:             opts.Gateway,
		LedgerService:       ledgerService,
		NotificationService: notificationService,
		FreeLookDays:        opts.FreeLookDays,
		ReversalFeePercent:  opts.ReversalFeePercent,
	})
	if err != nil {
		return fmt.Errorf("error creating the policy cancellation service: %w", err)
	}
	opts.cancellationService = cancellationService

	certificateService, err := services.NewCertificateService(opts.Models, opts.Storage, opts.UnderwriterName, opts.Location)
	if err != nil {
		return fmt.Errorf("error creating the certificate service: %w", err)
	}
	opts.certificateService = certificateService

	riderImportService, err := services.NewRiderImportService(opts.Models, opts.DefaultPhoneRegion)
	if err != nil {
		return fmt.Errorf("error creating the rider import service: %w", err)
	}
	opts.riderImportService = riderImportService

	return nil
}

func Serve(opts ServeOptions, httpServer HTTPServerInterface) error {
	err := opts.SetupDependencies()
	if err != nil {
		return fmt.Errorf("error starting dependencies: %w", err)
	}

	// Start the server
	listenAddr := fmt.Sprintf(":%d", opts.Port)
	serverConfig := Config{
		ListenAddr:          listenAddr,
		Handler:             handleHTTP(opts),
		TCPKeepAlive:        time.Minute * 3,
		ShutdownGracePeriod: time.Second * 50,
		ReadTimeout:         time.Second * 5,
		WriteTimeout:        time.Second * 35,
		IdleTimeout:         time.Minute * 2,
		OnStarting: func() {
			log.Info("Starting BodaSure API Server")
			log.Infof("Listening on %s", listenAddr)
		},
		OnStopping: func() {
			log.Info("Closing the database connection...")
			err := opts.dbConnectionPool.Close()
			if err != nil {
				log.Errorf("error closing database connection: %s", err.Error())
			}

			log.Info("Stopping BodaSure API Server")
		},
	}
	httpServer.Run(serverConfig)
	return nil
}

func handleHTTP(o ServeOptions) *chi.Mux {
	mux := chi.NewMux()

	// Middleware
	mux.Use(middleware.CorsMiddleware(o.CorsAllowedOrigins))
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.RealIP)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.RecoverHandler)
	mux.Use(middleware.MetricsRequestHandler(o.MonitorService))

	// Public routes: provider webhooks, the health probe, and certificate
	// downloads. No auth, rate-limited per client IP.
	mux.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(publicRateLimit, publicRateLimitWindow))

		r.Get("/health", (&httphandler.HealthHandler{
			ReleaseID:        o.GitCommit,
			ServiceID:        ServiceID,
			Version:          o.Version,
			DBConnectionPool: o.dbConnectionPool,
			Producer:         o.EventProducer,
		}).ServeHTTP)

		r.Post("/webhooks/mobile-money/callback", httphandler.MobileMoneyWebhookHandler{
			PaymentService: o.paymentService,
		}.ServeHTTP)

		deliveryWebhookHandler := httphandler.DeliveryWebhookHandler{Models: o.Models}
		r.Post("/webhooks/sms/{provider}/delivery", deliveryWebhookHandler.SMSDelivery)
		r.Post("/webhooks/email/sendgrid/events", deliveryWebhookHandler.SendGridEvents)

		if o.FilesystemStorage != nil {
			r.Get("/certificates/{token}", httphandler.CertificateDownloadHandler{
				Storage: o.FilesystemStorage,
			}.ServeHTTP)
		}
	})

	// Ops routes, authenticated with an API key.
	mux.Route("/ops", func(r chi.Router) {
		r.Use(middleware.APIKeyAuthenticate(o.Models.APIKeys))

		paymentsHandler := httphandler.PaymentsHandler{
			Models:         o.Models,
			PaymentService: o.paymentService,
		}
		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RequirePermission(data.WritePayments)).Post("/deposit", paymentsHandler.PostDeposit)
			r.With(middleware.RequirePermission(data.WritePayments)).Post("/daily", paymentsHandler.PostDailyPayment)
			r.With(middleware.RequirePermission(data.ReadPayments)).Get("/{id}", paymentsHandler.GetPayment)
			r.With(middleware.RequirePermission(data.WritePayments)).Post("/{id}/refresh", paymentsHandler.RefreshPayment)
		})

		walletsHandler := httphandler.WalletsHandler{Models: o.Models}
		r.With(middleware.RequirePermission(data.ReadPayments)).Get("/wallets/{riderID}", walletsHandler.GetWalletByRiderID)

		batchesHandler := httphandler.BatchesHandler{
			BatchService: o.batchService,
			Location:     o.Location,
		}
		r.Route("/batches", func(r chi.Router) {
			r.With(middleware.RequirePermission(data.WriteBatches)).Post("/trigger", batchesHandler.TriggerBatch)
			r.With(middleware.RequirePermission(data.WriteBatches)).Post("/{id}/retry", batchesHandler.RetryBatch)
		})

		policiesHandler := httphandler.PoliciesHandler{
			Models:              o.Models,
			CancellationService: o.cancellationService,
			CertificateService:  o.certificateService,
			CertificateURLTTL:   o.CertificateURLTTL,
		}
		r.Route("/policies", func(r chi.Router) {
			r.With(middleware.RequirePermission(data.ReadPolicies)).Get("/{id}", policiesHandler.GetPolicy)
			r.With(middleware.RequirePermission(data.WritePolicies)).Post("/{id}/cancel", policiesHandler.CancelPolicy)
			r.With(middleware.RequirePermission(data.ReadPolicies)).Get("/{id}/certificate-url", policiesHandler.GetCertificateURL)
		})

		ridersHandler := httphandler.RidersHandler{
			Models:        o.Models,
			ImportService: o.riderImportService,
		}
		r.Route("/riders", func(r chi.Router) {
			r.With(middleware.RequirePermission(data.WriteRiders)).Post("/", ridersHandler.PostRider)
			r.With(middleware.RequirePermission(data.WriteRiders)).Post("/import", ridersHandler.ImportRiders)
			r.With(middleware.RequirePermission(data.WriteRiders)).Patch("/{id}/kyc", ridersHandler.PatchRiderKYC)
		})
	})

	return mux
}
