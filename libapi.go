package workerflow

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/workerflow/internal/runtime"
	configpkg "github.com/drblury/workerflow/internal/runtime/config"
	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	idspkg "github.com/drblury/workerflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/workerflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/workerflow/internal/runtime/metadata"
	translatorspkg "github.com/drblury/workerflow/internal/runtime/translators"
	transportpkg "github.com/drblury/workerflow/transport"
)

type (
	Config = configpkg.Config

	Message           = runtimepkg.Message
	Metadata          = metadatapkg.Metadata
	TranslatedMessage = runtimepkg.TranslatedMessage

	Provider                 = runtimepkg.Provider
	BaseProvider             = runtimepkg.BaseProvider
	Translator               = runtimepkg.Translator
	TranslatorFunc           = runtimepkg.TranslatorFunc
	Handler                  = runtimepkg.Handler
	HandlerFunc              = runtimepkg.HandlerFunc
	BlockingHandlerFunc      = runtimepkg.BlockingHandlerFunc
	Stopper                  = runtimepkg.Stopper
	ErrorHandler             = runtimepkg.ErrorHandler
	ErrorHandlerFunc         = runtimepkg.ErrorHandlerFunc
	BlockingErrorHandlerFunc = runtimepkg.BlockingErrorHandlerFunc

	Route       = runtimepkg.Route
	RouteConfig = runtimepkg.RouteConfig

	Dispatcher       = runtimepkg.Dispatcher
	DispatcherConfig = runtimepkg.DispatcherConfig
	Runner           = runtimepkg.Runner
	RunnerConfig     = runtimepkg.RunnerConfig
	Task             = runtimepkg.Task
	Manager          = runtimepkg.Manager
	ManagerConfig    = runtimepkg.ManagerConfig

	ErrorContext     = runtimepkg.ErrorContext
	ProviderError    = runtimepkg.ProviderError
	TranslationError = runtimepkg.TranslationError
	PanicError       = runtimepkg.PanicError
	ErrorCategory    = runtimepkg.ErrorCategory

	ConfigValidationError = errspkg.ConfigValidationError

	DeliveryContext = runtimepkg.DeliveryContext
	DeliveryHooks   = runtimepkg.DeliveryHooks
	DispatchMetrics = runtimepkg.DispatchMetrics
	Outcome         = runtimepkg.Outcome

	PoisonQueueErrorHandler = runtimepkg.PoisonQueueErrorHandler
	PoisonQueueOption       = runtimepkg.PoisonQueueOption
	PoisonPayload           = runtimepkg.PoisonPayload

	LogFields      = loggingpkg.LogFields
	ServiceLogger  = loggingpkg.ServiceLogger
	LoggingOptions = loggingpkg.Options

	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewRoute        = runtimepkg.NewRoute
	MustNewRoute    = runtimepkg.MustNewRoute
	NewDispatcher   = runtimepkg.NewDispatcher
	NewRunner       = runtimepkg.NewRunner
	NewManager      = runtimepkg.NewManager
	NewErrorContext = runtimepkg.NewErrorContext

	CalculateBackoffMultiplier = runtimepkg.CalculateBackoffMultiplier
	IsEmpty                    = runtimepkg.IsEmpty
	IsDeleteMessage            = runtimepkg.IsDeleteMessage
	IsCancellation             = runtimepkg.IsCancellation
	Categorize                 = runtimepkg.Categorize

	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks
	NewDispatchMetrics = runtimepkg.NewDispatchMetrics
	ServeMetrics       = runtimepkg.ServeMetrics

	NewPoisonQueueErrorHandler = runtimepkg.NewPoisonQueueErrorHandler
	WithPoisonRoute            = runtimepkg.WithPoisonRoute
	WithPoisonFilter           = runtimepkg.WithPoisonFilter
	WithPoisonLogger           = runtimepkg.WithPoisonLogger
	LoggingErrorHandler        = runtimepkg.LoggingErrorHandler

	StringTranslator      = translatorspkg.String
	JSONTranslator        = translatorspkg.JSON
	CloudEventsTranslator = translatorspkg.CloudEvents

	DefaultConfig  = configpkg.Default
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter
	DiscardLogger        = loggingpkg.Discard

	NewMetadata = metadatapkg.New
	NewID       = idspkg.New

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	ErrDeleteMessage     = errspkg.ErrDeleteMessage
	ErrProviderRequired  = errspkg.ErrProviderRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrRoutesRequired    = errspkg.ErrRoutesRequired
	ErrRunnerClosed      = errspkg.ErrRunnerClosed
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrQueueNameRequired = errspkg.ErrQueueNameRequired
)

const EnvPrefix = configpkg.EnvPrefix

const (
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryCancelled  = runtimepkg.ErrorCategoryCancelled
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther

	OutcomeConfirmed    = runtimepkg.OutcomeConfirmed
	OutcomeNotProcessed = runtimepkg.OutcomeNotProcessed
	OutcomeDeleted      = runtimepkg.OutcomeDeleted
	OutcomeIgnored      = runtimepkg.OutcomeIgnored
	OutcomeCancelled    = runtimepkg.OutcomeCancelled
)

// JSONInto decodes message payloads into T.
func JSONInto[T any]() Translator {
	return translatorspkg.JSONInto[T]()
}

// ProtoTranslator decodes protojson payloads into a new T.
func ProtoTranslator[T proto.Message]() Translator {
	return translatorspkg.Proto[T]()
}

// NewEntryServiceLogger adapts a logrus-style entry.
func NewEntryServiceLogger[T loggingpkg.EntryLogger[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
