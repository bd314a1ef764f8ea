// Package config loads application configuration from environment variables
// into tagged structs.
//
// It wraps github.com/joho/godotenv for optional .env files and
// github.com/caarlos0/env/v11 for struct parsing. Every configuration type is
// parsed at most once per process, so components may call Load for their own
// config struct without coordinating with each other.
//
//	var cfg billingsvc.Config
//	config.MustLoad(&cfg)
//
// Errors can be compared with errors.Is against ErrParsingConfig,
// ErrLoadingEnvFile and ErrNilPointer. Tests that change the environment
// between loads should call ResetCache.
package config
