package recaptcha

import (
	"context"
)

// tokenExecutor retrieves tokens with the protocol of a challenge version.
type tokenExecutor struct {
	version Version
	siteKey string
	action  string
}

// retrieve returns "" without error when the interactive widget holds no
// response yet, or when no widget was rendered to hold one.
func (e *tokenExecutor) retrieve(ctx context.Context, rt Runtime, handle WidgetID) (string, error) {
	if e.version == VersionScored {
		token, err := rt.Execute(ctx, e.siteKey, ExecuteOptions{Action: e.action})
		if err != nil {
			if ctx.Err() != nil {
				return "", context.Cause(ctx)
			}
			return "", normalize(err, KindExecution, "failed to execute reCAPTCHA")
		}
		return token, nil
	}

	if handle == DefaultWidget {
		return "", nil
	}
	token, err := rt.GetResponse(handle)
	if err != nil {
		return "", normalize(err, KindExecution, "failed to get reCAPTCHA response")
	}
	return token, nil
}

// mustSucceed turns an absent token into a TokenUnavailable error.
func mustSucceed(token string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", &Error{Kind: KindTokenUnavailable, Message: "no reCAPTCHA token available"}
	}
	return token, nil
}
