package backend

import (
	"context"
	"fmt"
	"net/http"
)

// Local forwards the call to a development backend running next to the site.
type Local struct {
	url    string
	client *http.Client
}

func NewLocal(url string, client *http.Client) *Local {
	return &Local{url: url, client: client}
}

func (l *Local) Kind() Kind { return KindLocal }

func (l *Local) Dispatch(ctx context.Context, call Call) (*Result, error) {
	resp, body, err := postJSON(ctx, l.client, l.url, call, nil)
	if err == nil && !is2xx(resp.StatusCode) {
		err = fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	if err != nil {
		return nil, &DispatchError{
			Err:     ErrUnreachable,
			Details: fmt.Sprintf("Make sure the local backend is running on %s", l.url),
			Cause:   err,
		}
	}
	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}
