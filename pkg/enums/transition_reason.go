package enums

// TransitionReason labels why a subscription changed state. Values are
// exported to logs, metrics and the event sink.
type TransitionReason string

const (
	TransitionReasonProviderEvent  TransitionReason = "provider_event"
	TransitionReasonMissedExpiry   TransitionReason = "missed_expiry"
	TransitionReasonCanceledLapsed TransitionReason = "canceled_lapsed"
	TransitionReasonPastDueLapsed  TransitionReason = "past_due_lapsed"
	TransitionReasonRenewalFailed  TransitionReason = "renewal_failed"
	TransitionReasonAdminOverride  TransitionReason = "admin_override"
)

func (r TransitionReason) String() string {
	return string(r)
}
