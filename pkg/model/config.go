package model

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type StorageType string

const (
	StorageTypeMemory     StorageType = "memory"
	StorageTypePostgreSQL StorageType = "postgres"
)

// StorageConfig represents the configuration for the storage backend.
type StorageConfig struct {
	StorageType     StorageType   `toml:"type"`
	ConnectionURL   string        `toml:"-"`
	MaxOpenConns    int           `toml:"maxOpenConns"`
	MaxIdleConns    int           `toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `toml:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `toml:"connMaxIdleTime"`
}

// RateLimitConfig toggles the per-client HTTP rate limiter.
type RateLimitConfig struct {
	Enabled bool `toml:"enabled"`
	// Rate is a ulule/limiter formatted rate, e.g. "100-S" or "1000-M".
	Rate string `toml:"rate"`
}

// ServerConfig represents the configuration for the HTTP server.
type ServerConfig struct {
	Address string `toml:"address"`
	// RequestTimeout bounds every request handled by the API (default: 10s).
	RequestTimeout    time.Duration   `toml:"requestTimeout"`
	ReadHeaderTimeout time.Duration   `toml:"readHeaderTimeout"`
	RateLimit         RateLimitConfig `toml:"rateLimit"`
}

type HealthCheckConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    string `toml:"port"`
}

type QuorumMode string

const (
	QuorumModeAbsolute QuorumMode = "absolute"
	QuorumModeFraction QuorumMode = "fraction"
)

// QuorumConfig selects the threshold policy used by the verification engine.
type QuorumConfig struct {
	Mode QuorumMode `toml:"mode"`
	// Count is the required number of distinct attestations in absolute mode.
	Count int `toml:"count"`
	// Numerator and Denominator define the required fraction of the validator set in fraction mode.
	Numerator   int `toml:"numerator"`
	Denominator int `toml:"denominator"`
}

// ValidatorSetConfig configures where validator membership comes from.
// When SourceURL is set the set is fetched remotely, otherwise Validators is used.
type ValidatorSetConfig struct {
	Validators []string      `toml:"validators"`
	SourceURL  string        `toml:"sourceURL"`
	CacheTTL   time.Duration `toml:"cacheTTL"`
}

type VerificationConfig struct {
	// AttestationDeadline is measured from the first accepted attestation of a message.
	AttestationDeadline time.Duration `toml:"attestationDeadline"`
	SweepInterval       time.Duration `toml:"sweepInterval"`
	// AllowCorrections lets a validator replace its attestation when it is marked as a correction.
	AllowCorrections bool `toml:"allowCorrections"`
	// MaxLookupRounds is the number of indeterminate chain lookups tolerated after quorum.
	MaxLookupRounds int      `toml:"maxLookupRounds"`
	SupportedChains []uint64 `toml:"supportedChains"`
}

type AnchoringConfig struct {
	// BatchInterval is the scheduled batch period.
	BatchInterval time.Duration `toml:"batchInterval"`
	// MaxBatchSize closes the open batch early once it holds this many receipts (0 = unbounded).
	MaxBatchSize             int           `toml:"maxBatchSize"`
	ConfirmationPollInterval time.Duration `toml:"confirmationPollInterval"`
	ConfirmationConcurrency  int           `toml:"confirmationConcurrency"`
	AnchorQueueSize          int           `toml:"anchorQueueSize"`
	RootCacheSize            int           `toml:"rootCacheSize"`
	RootCacheTTL             time.Duration `toml:"rootCacheTTL"`
}

// PaymentOfferConfig is a statically configured offer template for a gated resource.
type PaymentOfferConfig struct {
	Asset        string `toml:"asset"`
	ChainID      uint64 `toml:"chainId"`
	TokenAddress string `toml:"tokenAddress"`
	PayTo        string `toml:"payTo"`
	// Amount is a base-10 integer in the token's smallest unit.
	Amount   string `toml:"amount"`
	Currency string `toml:"currency"`
}

// ParsedAmount returns Amount as an integer.
func (o PaymentOfferConfig) ParsedAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(o.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", o.Amount)
	}
	return amount, nil
}

func (o PaymentOfferConfig) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Asset, validation.Required),
		validation.Field(&o.ChainID, validation.Required),
		validation.Field(&o.TokenAddress, validation.Required),
		validation.Field(&o.PayTo, validation.Required),
		validation.Field(&o.Amount, validation.Required, validation.By(func(any) error {
			_, err := o.ParsedAmount()
			return err
		})),
	)
}

type PaymentResourceConfig struct {
	ID     string               `toml:"id"`
	Offers []PaymentOfferConfig `toml:"offers"`
}

type ReplayStoreType string

const (
	ReplayStoreTypeMemory ReplayStoreType = "memory"
	ReplayStoreTypeRedis  ReplayStoreType = "redis"
)

type ReplayStoreConfig struct {
	Type      ReplayStoreType `toml:"type"`
	KeyPrefix string          `toml:"keyPrefix"`
	// PendingTTL bounds how long an in-flight verification holds its reservation.
	PendingTTL time.Duration `toml:"pendingTTL"`
	Address    string        `toml:"-"`
	Password   string        `toml:"-"`
	DB         int           `toml:"-"`
}

type PaymentConfig struct {
	// FacilitatorURL is the payment facilitator endpoint. Without it proofs are rejected.
	FacilitatorURL string        `toml:"facilitatorURL"`
	OfferTTL       time.Duration `toml:"offerTTL"`
	// OfferRetention keeps expired offers around so late proofs are reported as expired.
	OfferRetention time.Duration           `toml:"offerRetention"`
	GrantTTL       time.Duration           `toml:"grantTTL"`
	Resources      []PaymentResourceConfig `toml:"resources"`
	Replay         ReplayStoreConfig       `toml:"replay"`
}

// Resource returns the configuration of a gated resource.
func (c *PaymentConfig) Resource(id string) (PaymentResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return PaymentResourceConfig{}, false
}

type EventsConfig struct {
	HeartbeatInterval    time.Duration `toml:"heartbeatInterval"`
	SubscriberBufferSize int           `toml:"subscriberBufferSize"`
}

// ExternalCallConfig bounds calls to one external collaborator.
type ExternalCallConfig struct {
	// Timeout applies to each attempt.
	Timeout        time.Duration `toml:"timeout"`
	MaxRetries     int           `toml:"maxRetries"`
	InitialBackoff time.Duration `toml:"initialBackoff"`
	MaxBackoff     time.Duration `toml:"maxBackoff"`
	// MaxConcurrent is the bound on in-flight calls. Callers beyond it wait up to MaxWait.
	MaxConcurrent int           `toml:"maxConcurrent"`
	MaxWait       time.Duration `toml:"maxWait"`
}

func (c *ExternalCallConfig) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 16
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
}

func (c ExternalCallConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(20)),
		validation.Field(&c.InitialBackoff, validation.Required),
		validation.Field(&c.MaxBackoff, validation.Required, validation.Min(c.InitialBackoff)),
		validation.Field(&c.MaxConcurrent, validation.Required, validation.Min(1)),
	)
}

type ChainConfig struct {
	Selector uint64 `toml:"selector"`
	RPCURL   string `toml:"rpcURL"`
}

type AnchorServiceConfig struct {
	URL string `toml:"url"`
}

type ExternalConfig struct {
	ChainLookup ExternalCallConfig `toml:"chainLookup"`
	Anchor      ExternalCallConfig `toml:"anchor"`
	Facilitator ExternalCallConfig `toml:"facilitator"`
	Validators  ExternalCallConfig `toml:"validators"`
}

// MonitoringConfig provides monitoring configuration for the coordinator.
type MonitoringConfig struct {
	// Enabled enables the monitoring system.
	Enabled bool `toml:"Enabled"`
	// Type is the type of monitoring system to use (beholder, noop).
	Type string `toml:"Type"`
	// Beholder is the configuration for the beholder client (Not required if type is noop).
	Beholder BeholderConfig `toml:"Beholder"`
}

// BeholderConfig wraps OpenTelemetry configuration for the beholder client.
type BeholderConfig struct {
	InsecureConnection       bool    `toml:"InsecureConnection"`
	CACertFile               string  `toml:"CACertFile"`
	OtelExporterGRPCEndpoint string  `toml:"OtelExporterGRPCEndpoint"`
	OtelExporterHTTPEndpoint string  `toml:"OtelExporterHTTPEndpoint"`
	LogStreamingEnabled      bool    `toml:"LogStreamingEnabled"`
	MetricReaderInterval     int64   `toml:"MetricReaderInterval"`
	TraceSampleRatio         float64 `toml:"TraceSampleRatio"`
	TraceBatchTimeout        int64   `toml:"TraceBatchTimeout"`
}

// CoordinatorConfig is the root configuration of the coordinator service.
type CoordinatorConfig struct {
	CoordinatorID string              `toml:"coordinatorID"`
	Server        ServerConfig        `toml:"server"`
	Storage       *StorageConfig      `toml:"storage"`
	HealthCheck   HealthCheckConfig   `toml:"healthCheck"`
	Quorum        QuorumConfig        `toml:"quorum"`
	ValidatorSet  ValidatorSetConfig  `toml:"validatorSet"`
	Verification  VerificationConfig  `toml:"verification"`
	Anchoring     AnchoringConfig     `toml:"anchoring"`
	AnchorService AnchorServiceConfig `toml:"anchorService"`
	Payment       PaymentConfig       `toml:"payment"`
	Events        EventsConfig        `toml:"events"`
	External      ExternalConfig      `toml:"external"`
	Chains        []ChainConfig       `toml:"chains"`
	Monitoring    MonitoringConfig    `toml:"monitoring"`
	PyroscopeURL  string              `toml:"pyroscope_url"`
}

// SetDefaults sets default values for the configuration.
func (c *CoordinatorConfig) SetDefaults() {
	if c.CoordinatorID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		c.CoordinatorID = hostname
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.RateLimit.Rate == "" {
		c.Server.RateLimit.Rate = "100-S"
	}
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if c.Storage.StorageType == "" {
		c.Storage.StorageType = StorageTypeMemory
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 25
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = time.Hour
	}
	if c.Storage.ConnMaxIdleTime == 0 {
		c.Storage.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.HealthCheck.Port == "" {
		c.HealthCheck.Port = "8081"
	}
	if c.Quorum.Mode == "" {
		c.Quorum.Mode = QuorumModeAbsolute
	}
	if c.ValidatorSet.CacheTTL == 0 {
		c.ValidatorSet.CacheTTL = time.Minute
	}
	if c.Verification.SweepInterval == 0 {
		c.Verification.SweepInterval = 5 * time.Second
	}
	if c.Verification.MaxLookupRounds == 0 {
		c.Verification.MaxLookupRounds = 10
	}
	if c.Anchoring.ConfirmationPollInterval == 0 {
		c.Anchoring.ConfirmationPollInterval = 15 * time.Second
	}
	if c.Anchoring.ConfirmationConcurrency == 0 {
		c.Anchoring.ConfirmationConcurrency = 4
	}
	if c.Anchoring.AnchorQueueSize == 0 {
		c.Anchoring.AnchorQueueSize = 64
	}
	if c.Anchoring.RootCacheSize == 0 {
		c.Anchoring.RootCacheSize = 1024
	}
	if c.Anchoring.RootCacheTTL == 0 {
		c.Anchoring.RootCacheTTL = time.Hour
	}
	if c.Payment.OfferTTL == 0 {
		c.Payment.OfferTTL = 5 * time.Minute
	}
	if c.Payment.OfferRetention == 0 {
		c.Payment.OfferRetention = time.Hour
	}
	if c.Payment.GrantTTL == 0 {
		c.Payment.GrantTTL = 5 * time.Minute
	}
	if c.Payment.Replay.Type == "" {
		c.Payment.Replay.Type = ReplayStoreTypeMemory
	}
	if c.Payment.Replay.KeyPrefix == "" {
		c.Payment.Replay.KeyPrefix = "payment-replay"
	}
	if c.Payment.Replay.PendingTTL == 0 {
		c.Payment.Replay.PendingTTL = 2 * time.Minute
	}
	if c.Events.HeartbeatInterval == 0 {
		c.Events.HeartbeatInterval = 15 * time.Second
	}
	if c.Events.SubscriberBufferSize == 0 {
		c.Events.SubscriberBufferSize = 64
	}
	c.External.ChainLookup.setDefaults()
	c.External.Anchor.setDefaults()
	c.External.Facilitator.setDefaults()
	c.External.Validators.setDefaults()
}

// ValidateQuorumConfig validates the quorum policy selection.
func (c *CoordinatorConfig) ValidateQuorumConfig() error {
	switch c.Quorum.Mode {
	case QuorumModeAbsolute:
		if c.Quorum.Count < 1 {
			return errors.New("quorum.count must be at least 1 in absolute mode")
		}
	case QuorumModeFraction:
		if c.Quorum.Numerator < 1 || c.Quorum.Denominator < 1 {
			return errors.New("quorum.numerator and quorum.denominator must be at least 1 in fraction mode")
		}
		if c.Quorum.Numerator > c.Quorum.Denominator {
			return errors.New("quorum.numerator cannot exceed quorum.denominator")
		}
		if len(c.ValidatorSet.Validators) == 0 && c.ValidatorSet.SourceURL == "" {
			return errors.New("fraction mode requires validatorSet.validators or validatorSet.sourceURL")
		}
	default:
		return fmt.Errorf("unsupported quorum.mode %q (supported: absolute, fraction)", c.Quorum.Mode)
	}
	return nil
}

// ValidateVerificationConfig validates deadlines and chain settings.
func (c *CoordinatorConfig) ValidateVerificationConfig() error {
	v := &c.Verification
	if err := validation.ValidateStruct(v,
		validation.Field(&v.AttestationDeadline, validation.Required, validation.Min(time.Second)),
		validation.Field(&v.SweepInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&v.MaxLookupRounds, validation.Min(1)),
		validation.Field(&v.SupportedChains, validation.Required),
	); err != nil {
		return err
	}
	configured := make(map[uint64]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.RPCURL == "" {
			return fmt.Errorf("chains: rpcURL is required for selector %d", chain.Selector)
		}
		configured[chain.Selector] = struct{}{}
	}
	for _, selector := range v.SupportedChains {
		if _, ok := configured[selector]; !ok {
			return fmt.Errorf("verification.supportedChains: no chains entry for selector %d", selector)
		}
	}
	return nil
}

// ValidateAnchoringConfig validates the batch schedule.
func (c *CoordinatorConfig) ValidateAnchoringConfig() error {
	a := &c.Anchoring
	return validation.ValidateStruct(a,
		validation.Field(&a.BatchInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&a.MaxBatchSize, validation.Min(0)),
		validation.Field(&a.ConfirmationPollInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&a.ConfirmationConcurrency, validation.Min(1), validation.Max(64)),
	)
}

// ValidatePaymentConfig validates gated resources and their offers.
func (c *CoordinatorConfig) ValidatePaymentConfig() error {
	seen := make(map[string]struct{}, len(c.Payment.Resources))
	for _, r := range c.Payment.Resources {
		if strings.TrimSpace(r.ID) == "" {
			return errors.New("payment.resources: id cannot be empty")
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("payment.resources: duplicate id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if len(r.Offers) == 0 {
			return fmt.Errorf("payment.resources[%s]: at least one offer is required", r.ID)
		}
		for i, o := range r.Offers {
			if err := o.Validate(); err != nil {
				return fmt.Errorf("payment.resources[%s].offers[%d]: %w", r.ID, i, err)
			}
		}
	}
	switch c.Payment.Replay.Type {
	case ReplayStoreTypeMemory, ReplayStoreTypeRedis:
	default:
		return fmt.Errorf("unsupported payment.replay.type %q (supported: memory, redis)", c.Payment.Replay.Type)
	}
	return nil
}

// ValidateStorageConfig validates the storage configuration.
func (c *CoordinatorConfig) ValidateStorageConfig() error {
	switch c.Storage.StorageType {
	case StorageTypeMemory, StorageTypePostgreSQL:
	default:
		return fmt.Errorf("unsupported storage.type %q (supported: memory, postgres)", c.Storage.StorageType)
	}
	if c.Storage.MaxIdleConns > c.Storage.MaxOpenConns {
		return errors.New("storage.maxIdleConns cannot exceed storage.maxOpenConns")
	}
	return nil
}

// Validate validates the coordinator configuration for integrity and correctness.
func (c *CoordinatorConfig) Validate() error {
	c.SetDefaults()

	if err := c.ValidateStorageConfig(); err != nil {
		return fmt.Errorf("storage configuration error: %w", err)
	}
	if err := c.ValidateQuorumConfig(); err != nil {
		return fmt.Errorf("quorum configuration error: %w", err)
	}
	if err := c.ValidateVerificationConfig(); err != nil {
		return fmt.Errorf("verification configuration error: %w", err)
	}
	if err := c.ValidateAnchoringConfig(); err != nil {
		return fmt.Errorf("anchoring configuration error: %w", err)
	}
	if err := c.ValidatePaymentConfig(); err != nil {
		return fmt.Errorf("payment configuration error: %w", err)
	}
	for name, ext := range map[string]ExternalCallConfig{
		"chainLookup": c.External.ChainLookup,
		"anchor":      c.External.Anchor,
		"facilitator": c.External.Facilitator,
		"validators":  c.External.Validators,
	} {
		if err := ext.Validate(); err != nil {
			return fmt.Errorf("external.%s configuration error: %w", name, err)
		}
	}
	return nil
}

// LoadFromEnvironment reads secrets that are never kept in the config file.
func (c *CoordinatorConfig) LoadFromEnvironment() error {
	if c.Storage != nil && c.Storage.StorageType == StorageTypePostgreSQL {
		storageURL := os.Getenv("COORDINATOR_STORAGE_CONNECTION_URL")
		if storageURL == "" {
			return errors.New("COORDINATOR_STORAGE_CONNECTION_URL environment variable is required")
		}
		c.Storage.ConnectionURL = storageURL
	}

	if c.Payment.Replay.Type == ReplayStoreTypeRedis {
		redisAddress := os.Getenv("COORDINATOR_REDIS_ADDRESS")
		if redisAddress == "" {
			return errors.New("COORDINATOR_REDIS_ADDRESS environment variable is required")
		}
		c.Payment.Replay.Address = redisAddress
		c.Payment.Replay.Password = os.Getenv("COORDINATOR_REDIS_PASSWORD")

		if redisDBStr := os.Getenv("COORDINATOR_REDIS_DB"); redisDBStr != "" {
			redisDB, err := strconv.Atoi(redisDBStr)
			if err != nil {
				return fmt.Errorf("invalid COORDINATOR_REDIS_DB value: %w", err)
			}
			c.Payment.Replay.DB = redisDB
		}
	}
	return nil
}
