package models

// All lists the models owned by this service, in dependency order. Used for
// sqlite auto-migration in local runs and tests.
func All() []any {
	return []any{
		&Player{},
		&WebhookEvent{},
		&GiftCode{},
		&RenewalFailure{},
	}
}
