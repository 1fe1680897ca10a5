package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	POSTForm(path string, form url.Values) error
	GetStatusCode() int
	GetResponseField(field string) (any, error)
	GetRedirectParams() (url.Values, error)
	GetClientID() string
	GetRedirectURI() string
	GetState() string
	SetState(state string)
	GetAuthCode() string
	SetAuthCode(code string)
	GetAccessToken() string
	SetAccessToken(token string)
	GetRefreshToken() string
	SetRefreshToken(token string)
}

// RegisterSteps registers grant flow step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	// Authorization steps
	ctx.Step(`^I request authorization with state "([^"]*)"$`, steps.requestAuthorization)
	ctx.Step(`^I request authorization with response_type "([^"]*)"$`, steps.requestAuthorizationWithResponseType)
	ctx.Step(`^I request authorization with redirect_uri "([^"]*)"$`, steps.requestAuthorizationWithRedirect)
	ctx.Step(`^I should be redirected with an authorization code$`, steps.redirectedWithCode)
	ctx.Step(`^I should be redirected with error "([^"]*)"$`, steps.redirectedWithError)
	ctx.Step(`^the redirect should carry state "([^"]*)"$`, steps.redirectCarriesState)

	// Token steps
	ctx.Step(`^I have an authorization code$`, steps.haveAuthorizationCode)
	ctx.Step(`^I exchange the authorization code for tokens$`, steps.exchangeCodeForTokens)
	ctx.Step(`^I exchange the authorization code as client "([^"]*)"$`, steps.exchangeCodeAsClient)
	ctx.Step(`^I exchange invalid authorization code "([^"]*)"$`, steps.exchangeInvalidCode)
	ctx.Step(`^I attempt to reuse the same authorization code$`, steps.exchangeCodeForTokens)
	ctx.Step(`^I save the issued tokens$`, steps.saveIssuedTokens)
	ctx.Step(`^I have exchanged an authorization code for tokens$`, steps.haveExchangedTokens)
	ctx.Step(`^I refresh with the saved refresh token$`, steps.refreshWithSavedToken)
	ctx.Step(`^I POST to the token endpoint with grant_type "([^"]*)"$`, steps.postWithGrantType)

	// Introspection steps
	ctx.Step(`^I request token info with the saved access token$`, steps.requestTokenInfo)
	ctx.Step(`^I request token info with token "([^"]*)"$`, steps.requestTokenInfoWith)
}

type authSteps struct {
	tc TestContext
}

func (s *authSteps) authorize(params url.Values) error {
	return s.tc.GET("/authorize?"+params.Encode(), nil)
}

func (s *authSteps) baseAuthorizeParams() url.Values {
	return url.Values{
		"response_type": {"code"},
		"client_id":     {s.tc.GetClientID()},
		"redirect_uri":  {s.tc.GetRedirectURI()},
	}
}

func (s *authSteps) requestAuthorization(ctx context.Context, state string) error {
	s.tc.SetState(state)
	params := s.baseAuthorizeParams()
	params.Set("state", state)
	return s.authorize(params)
}

func (s *authSteps) requestAuthorizationWithResponseType(ctx context.Context, responseType string) error {
	params := s.baseAuthorizeParams()
	params.Set("response_type", responseType)
	return s.authorize(params)
}

func (s *authSteps) requestAuthorizationWithRedirect(ctx context.Context, redirectURI string) error {
	params := s.baseAuthorizeParams()
	params.Set("redirect_uri", redirectURI)
	return s.authorize(params)
}

func (s *authSteps) redirectedWithCode(ctx context.Context) error {
	if s.tc.GetStatusCode() != 302 {
		return fmt.Errorf("expected 302, got %d", s.tc.GetStatusCode())
	}
	params, err := s.tc.GetRedirectParams()
	if err != nil {
		return err
	}
	code := params.Get("code")
	if len(code) != 64 {
		return fmt.Errorf("expected a 64 character code, got %q", code)
	}
	s.tc.SetAuthCode(code)
	return nil
}

func (s *authSteps) redirectedWithError(ctx context.Context, expected string) error {
	params, err := s.tc.GetRedirectParams()
	if err != nil {
		return err
	}
	if got := params.Get("error"); got != expected {
		return fmt.Errorf("expected error=%q, got %q", expected, got)
	}
	return nil
}

func (s *authSteps) redirectCarriesState(ctx context.Context, expected string) error {
	params, err := s.tc.GetRedirectParams()
	if err != nil {
		return err
	}
	if got := params.Get("state"); got != expected {
		return fmt.Errorf("expected state=%q, got %q", expected, got)
	}
	return nil
}

func (s *authSteps) haveAuthorizationCode(ctx context.Context) error {
	if err := s.requestAuthorization(ctx, "e2e-state"); err != nil {
		return err
	}
	return s.redirectedWithCode(ctx)
}

func (s *authSteps) exchangeForm(code, clientID string) url.Values {
	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {clientID},
		"redirect_uri": {s.tc.GetRedirectURI()},
	}
}

func (s *authSteps) exchangeCodeForTokens(ctx context.Context) error {
	return s.tc.POSTForm("/token", s.exchangeForm(s.tc.GetAuthCode(), s.tc.GetClientID()))
}

func (s *authSteps) exchangeCodeAsClient(ctx context.Context, clientID string) error {
	return s.tc.POSTForm("/token", s.exchangeForm(s.tc.GetAuthCode(), clientID))
}

func (s *authSteps) exchangeInvalidCode(ctx context.Context, code string) error {
	return s.tc.POSTForm("/token", s.exchangeForm(code, s.tc.GetClientID()))
}

func (s *authSteps) saveIssuedTokens(ctx context.Context) error {
	accessToken, err := s.tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	refreshToken, err := s.tc.GetResponseField("refresh_token")
	if err != nil {
		return err
	}
	s.tc.SetAccessToken(fmt.Sprint(accessToken))
	s.tc.SetRefreshToken(fmt.Sprint(refreshToken))
	return nil
}

func (s *authSteps) haveExchangedTokens(ctx context.Context) error {
	if err := s.haveAuthorizationCode(ctx); err != nil {
		return err
	}
	if err := s.exchangeCodeForTokens(ctx); err != nil {
		return err
	}
	if s.tc.GetStatusCode() != 200 {
		return fmt.Errorf("token exchange returned %d", s.tc.GetStatusCode())
	}
	return s.saveIssuedTokens(ctx)
}

func (s *authSteps) refreshWithSavedToken(ctx context.Context) error {
	return s.tc.POSTForm("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.tc.GetRefreshToken()},
	})
}

func (s *authSteps) postWithGrantType(ctx context.Context, grantType string) error {
	return s.tc.POSTForm("/token", url.Values{
		"grant_type":   {grantType},
		"code":         {"some-code"},
		"redirect_uri": {s.tc.GetRedirectURI()},
		"client_id":    {s.tc.GetClientID()},
	})
}

func (s *authSteps) requestTokenInfo(ctx context.Context) error {
	return s.requestTokenInfoWith(ctx, s.tc.GetAccessToken())
}

func (s *authSteps) requestTokenInfoWith(ctx context.Context, token string) error {
	return s.tc.GET("/tokeninfo", map[string]string{
		"Authorization": "Bearer " + token,
	})
}
