package execution

// Phase determines which step list of a flow applies.
type Phase string

const (
	PhaseRequest         Phase = "REQUEST"
	PhaseResponse        Phase = "RESPONSE"
	PhaseMessageRequest  Phase = "MESSAGE_REQUEST"
	PhaseMessageResponse Phase = "MESSAGE_RESPONSE"
)

// IsMessage reports whether the phase operates on individual messages.
func (p Phase) IsMessage() bool {
	return p == PhaseMessageRequest || p == PhaseMessageResponse
}

// Public attribute names.
const (
	AttrPrefix          = "gateway."
	AttrContextPath     = AttrPrefix + "context-path"
	AttrApi             = AttrPrefix + "api"
	AttrApiName         = AttrPrefix + "api-name"
	AttrPlan            = AttrPrefix + "plan"
	AttrApplication     = AttrPrefix + "application"
	AttrSubscription    = AttrPrefix + "subscription-id"
	AttrUser            = AttrPrefix + "user"
	AttrRequestEndpoint = AttrPrefix + "request.endpoint"
	AttrMappedPath      = AttrPrefix + "mapped-path"
	AttrEntrypointID    = AttrPrefix + "entrypoint-id"
	AttrFailureKey      = AttrPrefix + "failure-key"
)

// Internal attribute names. They are only reachable through the internal accessors.
const (
	InternalListenerType    = "listener.type"
	InternalEntrypoint      = "entrypoint.connector"
	InternalPlan            = "plan"
	InternalFlowsPrefix     = "flows."
	InternalFailure         = "execution.failure"
	InternalMessagesOp      = "messages.operation"
	InternalLogRecord       = "analytics.log"
	InternalInvokerSkip     = "invoker.skip"
	InternalHookStatePrefix = "hook."
	InternalStreamFailure   = "stream.failure"
)

// MessageOperation tells endpoints which direction a message API call flows.
type MessageOperation string

const (
	OperationPublish   MessageOperation = "publish"
	OperationSubscribe MessageOperation = "subscribe"
)
