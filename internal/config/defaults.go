package config

// Default values for configuration options. These are layer 0 of the
// override chain and apply when no config file exists.
const (
	defaultCallbackPort        = 53682
	defaultCallbackTimeout     = "5m"
	defaultExpiryMargin        = "5m"
	defaultAuthURL             = "https://www.dropbox.com/oauth2/authorize"
	defaultTokenURL            = "https://api.dropboxapi.com/oauth2/token"
	defaultAccountType         = AccountTypePersonal
	defaultExpiryDays          = 7
	defaultParallelConversions = 4
	defaultSizeThreshold       = "10MiB"
	defaultPathRoot            = PathRootAuto
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultAPIURL              = "https://api.dropboxapi.com/2"
	defaultConnectTimeout      = "10s"
)

// Account types, matching the keys of the desktop client's info.json.
const (
	AccountTypePersonal = "personal"
	AccountTypeBusiness = "business"
)

// Path root modes. Any other value is taken as a namespace ID.
const (
	PathRootAuto = "auto"
	PathRootHome = "home"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			CallbackPort:    defaultCallbackPort,
			CallbackTimeout: defaultCallbackTimeout,
			ExpiryMargin:    defaultExpiryMargin,
			AuthURL:         defaultAuthURL,
			TokenURL:        defaultTokenURL,
		},
		Links: LinksConfig{
			AccountType:         defaultAccountType,
			ExpiryDays:          defaultExpiryDays,
			ParallelConversions: defaultParallelConversions,
			SizeThreshold:       defaultSizeThreshold,
			PathRoot:            defaultPathRoot,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			APIURL:         defaultAPIURL,
			ConnectTimeout: defaultConnectTimeout,
		},
	}
}
