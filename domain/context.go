package domain

import "context"

type organizationKey struct{}

// WithOrganization returns a context scoped to the given organization. Calls into
// the workflow engine read the organization from the context instead of from
// process wide state.
func WithOrganization(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, organizationKey{}, org)
}

// OrganizationFrom returns the organization stored by WithOrganization.
func OrganizationFrom(ctx context.Context) (string, bool) {
	org, ok := ctx.Value(organizationKey{}).(string)
	return org, ok && org != ""
}
