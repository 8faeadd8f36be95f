package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// validateToken performs the auth pre-flight check against the backend's
// validation endpoint. The three outcomes are kept apart deliberately:
//
//   - accepted:           ok == true
//   - explicitly rejected: ok == false, message from the backend
//   - unreachable:         err != nil (network-level failure, retried)
//
// A rejection means the credentials are wrong and retrying is pointless;
// unreachability means the server may come back, so the caller schedules
// a backoff retry.
func validateToken(ctx context.Context, client *http.Client, baseURL, token string) (ok bool, message string, err error) {
	u := fmt.Sprintf("%s/api/auth?token=%s", baseURL, url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed struct {
			OK bool `json:"ok"`
		}
		if jerr := json.Unmarshal(body, &parsed); jerr != nil || !parsed.OK {
			return false, "", fmt.Errorf("unexpected pre-flight response: %s", body)
		}
		return true, "", nil

	case http.StatusUnauthorized, http.StatusForbidden:
		var parsed struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &parsed)
		if parsed.Error == "" {
			parsed.Error = "token rejected"
		}
		return false, parsed.Error, nil

	default:
		// 5xx and friends say nothing about the token itself
		return false, "", fmt.Errorf("pre-flight check returned status %d", resp.StatusCode)
	}
}
