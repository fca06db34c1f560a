package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/service/onboarding"
)

func handleOAuthStart(flow onboardingFlow) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Optional hint, carried through the signed state token
		identity := r.URL.Query().Get("identity")

		http.Redirect(w, r, flow.AuthorizationURL(identity), http.StatusFound)
	})
}

// handleOAuthCallback finishes the consent flow and always sends the user
// back to the app: ?connected=1&identity= on success, ?error=<code> otherwise.
// The browser never sees token material or raw provider errors.
func handleOAuthCallback(flow onboardingFlow, appURL string, l logger.Logger) http.Handler {
	redirect := func(w http.ResponseWriter, r *http.Request, params url.Values) {
		http.Redirect(w, r, appURL+"?"+params.Encode(), http.StatusFound)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		cred, err := flow.HandleCallback(r.Context(), q.Get("code"), q.Get("state"), q.Get("error"))
		if err != nil {
			code := onboarding.CodeUnexpected
			var flowErr *onboarding.FlowError
			if errors.As(err, &flowErr) {
				code = flowErr.Code
			}

			l.Error("OAuth callback failed", "code", code, "error", err)
			redirect(w, r, url.Values{"error": {code}})
			return
		}

		redirect(w, r, url.Values{"connected": {"1"}, "identity": {cred.Identity}})
	})
}
