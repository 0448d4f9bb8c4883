package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/adrg/xdg"
	"golang.org/x/time/rate"
)

var ErrNoAuthSession = errors.New("no auth session found")

const authSessionPath = "larkbot/auth-session.json"

// AuthSession is the persisted login, stored under the xdg state dir so
// restarts re-use the refresh token instead of burning password logins.
type AuthSession struct {
	DID          syntax.DID `json:"did"`
	Handle       string     `json:"handle"`
	Password     string     `json:"password"`
	RefreshToken string     `json:"session_token"`
	PDS          string     `json:"pds"`
}

func persistAuthSession(sess *AuthSession) error {
	fPath, err := xdg.StateFile(authSessionPath)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(fPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	authBytes, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	_, err = f.Write(authBytes)
	return err
}

func loadAuthSession() (*AuthSession, error) {
	fPath, err := xdg.SearchStateFile(authSessionPath)
	if err != nil {
		return nil, ErrNoAuthSession
	}

	fBytes, err := os.ReadFile(fPath)
	if err != nil {
		return nil, err
	}

	var sess AuthSession
	if err := json.Unmarshal(fBytes, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

type sessionTokens struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

// NewSessionClient returns an authenticated xrpc client for the account,
// preferring a persisted refresh token and falling back to a fresh password
// login. pdsHost may be empty, in which case the account's PDS is resolved
// through the identity directory.
func NewSessionClient(ctx context.Context, identifier, password, pdsHost, plcHost string) (*xrpc.Client, error) {
	atid, err := syntax.ParseAtIdentifier(identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid account identifier: %w", err)
	}

	sess, err := loadAuthSession()
	if err == nil && (sess.Handle == identifier || sess.DID.String() == identifier) {
		client := &xrpc.Client{
			Host: sess.PDS,
			Auth: &xrpc.AuthInfo{
				Did: sess.DID.String(),
				// the refresh token goes in the access slot for the
				// refreshSession call
				AccessJwt:  sess.RefreshToken,
				RefreshJwt: sess.RefreshToken,
			},
		}
		var resp sessionTokens
		if err := client.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.server.refreshSession", nil, nil, &resp); err == nil {
			client.Auth.AccessJwt = resp.AccessJwt
			client.Auth.RefreshJwt = resp.RefreshJwt
			client.Auth.Handle = resp.Handle
			return client, nil
		}
	}

	sess, err = createAuthSession(ctx, atid, password, pdsHost, plcHost)
	if err != nil {
		return nil, err
	}
	if err := persistAuthSession(sess); err != nil {
		return nil, err
	}

	client := &xrpc.Client{
		Host: sess.PDS,
		Auth: &xrpc.AuthInfo{
			Did:        sess.DID.String(),
			Handle:     sess.Handle,
			AccessJwt:  sess.RefreshToken,
			RefreshJwt: sess.RefreshToken,
		},
	}
	var resp sessionTokens
	if err := client.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.server.refreshSession", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("refreshing new session: %w", err)
	}
	client.Auth.AccessJwt = resp.AccessJwt
	client.Auth.RefreshJwt = resp.RefreshJwt
	return client, nil
}

func createAuthSession(ctx context.Context, username syntax.AtIdentifier, password, pdsURL, plcHost string) (*AuthSession, error) {
	var did syntax.DID
	if pdsURL == "" {
		dir := identity.BaseDirectory{
			PLCURL: plcHost,
			HTTPClient: http.Client{
				Timeout: time.Second * 15,
			},
			PLCLimiter: rate.NewLimiter(rate.Limit(10), 1),
		}
		ident, err := dir.Lookup(ctx, username)
		if err != nil {
			return nil, err
		}

		pdsURL = ident.PDSEndpoint()
		if pdsURL == "" {
			return nil, fmt.Errorf("empty PDS URL")
		}
		did = ident.DID
	}

	if did == "" && username.IsDID() {
		did, _ = username.AsDID()
	}

	client := xrpc.Client{
		Host: pdsURL,
	}
	input := map[string]interface{}{
		"identifier": username.String(),
		"password":   password,
	}
	var sess sessionTokens
	if err := client.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.server.createSession", nil, input, &sess); err != nil {
		return nil, err
	}

	if did == "" {
		var err error
		did, err = syntax.ParseDID(sess.Did)
		if err != nil {
			return nil, err
		}
	} else if sess.Did != did.String() {
		return nil, fmt.Errorf("session DID didn't match expected: %s != %s", sess.Did, did)
	}

	return &AuthSession{
		DID:          did,
		Handle:       sess.Handle,
		Password:     password,
		PDS:          pdsURL,
		RefreshToken: sess.RefreshJwt,
	}, nil
}
