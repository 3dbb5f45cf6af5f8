package eventstream

import (
	runtimepkg "github.com/drblury/eventstream/internal/runtime"
	configpkg "github.com/drblury/eventstream/internal/runtime/config"
	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	idspkg "github.com/drblury/eventstream/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/internal/runtime/routing"
	"github.com/drblury/eventstream/internal/runtime/serializer"
	"github.com/drblury/eventstream/transport"
	"github.com/drblury/eventstream/transport/transports"
)

type (
	Config               = configpkg.Config
	StreamConfig         = configpkg.StreamConfig
	ConnectionParameters = configpkg.ConnectionParameters
	SerializerConfig     = configpkg.SerializerConfig

	Stream        = runtimepkg.Stream
	StreamOptions = runtimepkg.StreamOptions
	Registry      = runtimepkg.Registry
	Dependencies  = runtimepkg.Dependencies
	Worker        = runtimepkg.Worker
	Extension     = runtimepkg.Extension

	Transport         = transport.Transport
	TransportKind     = transport.Kind
	TransportConfig   = transport.Config
	TransportOptions  = transport.Options
	TransportBuilder  = transport.Builder
	TransportRegistry = transport.Registry
	Capabilities      = transport.Capabilities

	Subscriber  = transport.Subscriber
	HandlerFunc = transport.HandlerFunc
	Serializer  = transport.Serializer

	JSONSerializer   = serializer.JSON
	SerializerOption = serializer.Option
	SerializerHook   = serializer.Hook
	Enum             = serializer.Enum
	RoutingTable     = routing.Table
	DecodeError      = routing.DecodeError
	HandlerError     = routing.HandlerError

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	// Delivery lifecycle hooks
	DeliveryContext = runtimepkg.DeliveryContext
	DeliveryHooks   = runtimepkg.DeliveryHooks

	// Metrics
	Metrics         = runtimepkg.Metrics
	StreamStats     = runtimepkg.StreamStats
	MetricsSnapshot = runtimepkg.MetricsSnapshot

	StreamConnectionError = errspkg.StreamConnectionError
	ConsumerError         = errspkg.ConsumerError
	PublisherError        = errspkg.PublisherError
	SerializationError    = errspkg.SerializationError
	ConfigValidationError = errspkg.ConfigValidationError
)

// Transport kinds accepted in StreamConfig.Transport.
const (
	TransportAMQP    = transport.KindAMQP
	TransportChannel = transport.KindChannel
	TransportNATS    = transport.KindNATS

	DefaultStreamName = runtimepkg.DefaultStreamName
)

var (
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	NewStream        = runtimepkg.NewStream
	NewRegistry      = runtimepkg.NewRegistry
	InitFromSettings = runtimepkg.InitFromSettings

	NewSubscriber        = transport.NewSubscriber
	NewTransportRegistry = transports.NewRegistry
	ParseTransportKind   = transport.ParseKind

	NewJSONSerializer      = serializer.NewJSON
	WithGracefulSerializer = serializer.WithGraceful
	WithSerializerHooks    = serializer.WithHooks
	WithSerializerLogger   = serializer.WithLogger
	MatchTopic             = routing.Match
	ValidateTopicPattern   = routing.ValidatePattern

	// Delivery lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewMetrics = runtimepkg.NewMetrics

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrStreamConnection   = errspkg.ErrStreamConnection
	ErrNotConnected       = errspkg.ErrNotConnected
	ErrNotImplemented     = errspkg.ErrNotImplemented
	ErrConsumeTimeout     = errspkg.ErrConsumeTimeout
	ErrUnknownStream      = errspkg.ErrUnknownStream
	ErrUnknownTransport   = errspkg.ErrUnknownTransport
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrStreamRequired     = errspkg.ErrStreamRequired
	ErrStreamClosed       = errspkg.ErrStreamClosed

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	CreateULID = idspkg.CreateULID
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
