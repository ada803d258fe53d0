package webhook

import (
	"net/http"

	"github.com/cuongdev/billgate/pkg/models"
)

// AuthStrategy applies one authentication scheme to an outgoing
// http-destination request.
type AuthStrategy interface {
	Apply(headers http.Header, target *models.GenericHTTP)
}

type noAuth struct{}

func (noAuth) Apply(http.Header, *models.GenericHTTP) {}

type headerAuth struct{}

func (headerAuth) Apply(headers http.Header, target *models.GenericHTTP) {
	if target.AuthHeader != "" && target.AuthSecret != "" {
		headers.Set(target.AuthHeader, target.AuthSecret)
	}
}

type bearerAuth struct{}

func (bearerAuth) Apply(headers http.Header, target *models.GenericHTTP) {
	if target.AuthSecret != "" {
		headers.Set("Authorization", "Bearer "+target.AuthSecret)
	}
}

// basicAuth carries the secret pre-encoded; it is passed through
// untouched.
type basicAuth struct{}

func (basicAuth) Apply(headers http.Header, target *models.GenericHTTP) {
	if target.AuthSecret != "" {
		headers.Set("Authorization", "Basic "+target.AuthSecret)
	}
}

var authStrategies = map[models.AuthType]AuthStrategy{
	models.AuthNone:   noAuth{},
	models.AuthHeader: headerAuth{},
	models.AuthBearer: bearerAuth{},
	models.AuthBasic:  basicAuth{},
}

// StrategyFor returns the strategy for an auth type, defaulting to
// no authentication.
func StrategyFor(t models.AuthType) AuthStrategy {
	if s, ok := authStrategies[t]; ok {
		return s
	}
	return noAuth{}
}
