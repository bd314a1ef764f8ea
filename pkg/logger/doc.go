// Package logger builds *slog.Logger instances with functional options,
// per-environment defaults and context attribute injection, and provides
// attribute helpers that keep field names consistent across the billing
// components (organization_id, customer_id, event_type, error, ...).
//
// # Usage
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//
//	log := logger.New(logger.FromConfig(cfg)...)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "billing snapshot resolved",
//		logger.OrganizationID(orgID),
//		logger.CustomerID(customerID))
//
// Context values can be injected automatically:
//
//	log := logger.New(logger.WithContextValue("request_id", requestIDKey{}))
package logger
