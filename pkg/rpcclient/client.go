// Package rpcclient is the operator-side client for the portald JSON-RPC
// endpoint.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/portalswap/portal/pkg/rpc"
)

type client struct {
	User      string
	Pass      string
	Protocol  string
	RPCServer string
}

// Client mirrors the daemon's method set.
type Client interface {
	CreateSession(data rpc.RequestCreateSession) (json.RawMessage, error)
	ExecuteSession(data rpc.RequestSession) (json.RawMessage, error)
	AbortSession(data rpc.RequestSession) (json.RawMessage, error)
	SessionStatus(data rpc.RequestSession) (json.RawMessage, error)
	ListSessions() (json.RawMessage, error)
}

func NewClient(userName string, password string, protocol string, rpcServer string) Client {
	return &client{
		User:      userName,
		Pass:      password,
		Protocol:  protocol,
		RPCServer: rpcServer,
	}
}

// SendPostRequest sends the marshalled JSON-RPC command using HTTP-POST
// mode and returns either the result field or the error field depending on
// whether or not there is an error.
func (c *client) SendPostRequest(method string, jsonData []byte) (json.RawMessage, error) {
	payload := rpc.Request{
		Version: "2.0",
		Method:  method,
		Params:  json.RawMessage(jsonData),
	}
	marshalledJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := c.Protocol + "://" + c.RPCServer
	bodyReader := bytes.NewReader(marshalledJSON)
	httpRequest, err := http.NewRequest("POST", url, bodyReader)
	if err != nil {
		return nil, err
	}
	httpRequest.Close = true
	httpRequest.Header.Set("Content-Type", "application/json")

	// Configure basic access authorization.
	httpRequest.SetBasicAuth(c.User, c.Pass)

	httpResponse, err := http.DefaultClient.Do(httpRequest)
	if err != nil {
		return nil, err
	}

	respBytes, err := io.ReadAll(httpResponse.Body)
	httpResponse.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading json reply: %v", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		if len(respBytes) == 0 {
			return nil, fmt.Errorf("%d %s", httpResponse.StatusCode,
				http.StatusText(httpResponse.StatusCode))
		}
		return nil, fmt.Errorf("%s", respBytes)
	}

	var resp rpc.Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("error occurred: %s with data: %s", resp.Error.Message, resp.Error.Data)
	}
	return resp.Result, nil
}

func (c *client) CreateSession(data rpc.RequestCreateSession) (json.RawMessage, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.SendPostRequest("createSession", jsonData)
}

func (c *client) ExecuteSession(data rpc.RequestSession) (json.RawMessage, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.SendPostRequest("executeSession", jsonData)
}

func (c *client) AbortSession(data rpc.RequestSession) (json.RawMessage, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.SendPostRequest("abortSession", jsonData)
}

func (c *client) SessionStatus(data rpc.RequestSession) (json.RawMessage, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.SendPostRequest("sessionStatus", jsonData)
}

func (c *client) ListSessions() (json.RawMessage, error) {
	return c.SendPostRequest("listSessions", json.RawMessage("{}"))
}
