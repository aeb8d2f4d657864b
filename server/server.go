/*
   Copyright 2015 Cesanta Software Ltd.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       https://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/cesanta/glog"
	"github.com/dchest/uniuri"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/authn"
	"github.com/cesanta/phpbb_auth/store"
)

var (
	hostPortRegex = regexp.MustCompile(`\[?(.+?)\]?:\d+$`)
)

// Authenticator is what the HTTP endpoints need from the backend.
type Authenticator interface {
	api.Authenticator
	UserExists(ctx context.Context, user string) (bool, error)
}

type AuthServer struct {
	config *Config
	authn  Authenticator
}

func NewAuthServer(c *Config) (*AuthServer, error) {
	s, err := store.New(&c.Store)
	if err != nil {
		return nil, err
	}
	a, err := authn.NewPhpBBAuth(&c.PhpBB, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return newAuthServer(c, a), nil
}

func newAuthServer(c *Config, a Authenticator) *AuthServer {
	return &AuthServer{config: c, authn: a}
}

type authRequest struct {
	ID         string
	RemoteAddr string
	User       string
	Password   api.PasswordString
}

func (ar authRequest) String() string {
	return fmt.Sprintf("{%s %s:%s@%s}", ar.ID, ar.User, ar.Password, ar.RemoteAddr)
}

func parseRemoteAddr(ra string) net.IP {
	hp := hostPortRegex.FindStringSubmatch(ra)
	if hp != nil {
		ra = string(hp[1])
	}
	res := net.ParseIP(ra)
	return res
}

func (as *AuthServer) parseRequest(req *http.Request) (*authRequest, error) {
	ar := &authRequest{ID: uniuri.NewLen(10), RemoteAddr: req.RemoteAddr}
	if as.config.Server.RealIPHeader != "" {
		hv := req.Header.Get(as.config.Server.RealIPHeader)
		ips := strings.Split(hv, ",")

		realIPPos := as.config.Server.RealIPPos
		if realIPPos < 0 {
			realIPPos = len(ips) + realIPPos
			if realIPPos < 0 {
				realIPPos = 0
			}
		}
		if realIPPos >= len(ips) {
			realIPPos = len(ips) - 1
		}

		ar.RemoteAddr = strings.TrimSpace(ips[realIPPos])
		glog.V(3).Infof("Conn ip %s, %s: %s, addr: %s", req.RemoteAddr, as.config.Server.RealIPHeader, hv, ar.RemoteAddr)
		if ar.RemoteAddr == "" {
			return nil, fmt.Errorf("client address not provided")
		}
	}
	if ip := parseRemoteAddr(ar.RemoteAddr); ip != nil {
		ar.RemoteAddr = ip.String()
	}
	if user, password, ok := req.BasicAuth(); ok {
		ar.User = user
		ar.Password = api.PasswordString(password)
	}
	return ar, nil
}

func (as *AuthServer) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	glog.V(3).Infof("Request: %s %s from %s", req.Method, req.URL.Path, req.RemoteAddr)
	pathPrefix := as.config.Server.PathPrefix
	switch req.URL.Path {
	case pathPrefix + "/":
		as.doIndex(rw, req)
	case pathPrefix + "/auth":
		as.doAuth(rw, req)
	case pathPrefix + "/canonical":
		as.doCanonical(rw, req)
	case pathPrefix + "/exists":
		as.doExists(rw, req)
	default:
		http.Error(rw, "Not found", http.StatusNotFound)
	}
}

func (as *AuthServer) doIndex(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(rw, "<h1>%s</h1>\n", as.authn.Name())
}

func (as *AuthServer) doAuth(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ar, err := as.parseRequest(req)
	if err != nil {
		glog.Warningf("Bad request: %s", err)
		http.Error(rw, fmt.Sprintf("Bad request: %s", err), http.StatusBadRequest)
		return
	}
	rw.Header().Set("X-Request-Id", ar.ID)
	if ar.User == "" {
		as.unauthorized(rw)
		http.Error(rw, "Credentials required.", http.StatusUnauthorized)
		return
	}
	glog.V(2).Infof("Auth request: %s", ar)
	result, err := as.authn.Authenticate(req.Context(), ar.User, ar.Password)
	if err != nil {
		glog.Errorf("%s: %s", ar, err)
		http.Error(rw, "Authentication failed, see server log "+ar.ID, http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !result.Accepted {
		glog.Warningf("Auth failed: %s: %s", ar, result)
		as.unauthorized(rw)
		status = http.StatusUnauthorized
	}
	as.writeJSON(rw, status, result)
}

func (as *AuthServer) unauthorized(rw http.ResponseWriter) {
	rw.Header()["WWW-Authenticate"] = []string{fmt.Sprintf(`Basic realm="%s"`, as.config.Server.Realm)}
}

func (as *AuthServer) doCanonical(rw http.ResponseWriter, req *http.Request) {
	user, ok := as.usernameParam(rw, req)
	if !ok {
		return
	}
	name, err := as.authn.CanonicalName(req.Context(), user)
	if err != nil {
		http.Error(rw, "Lookup failed", http.StatusInternalServerError)
		return
	}
	as.writeJSON(rw, http.StatusOK, map[string]string{"username": name})
}

func (as *AuthServer) doExists(rw http.ResponseWriter, req *http.Request) {
	user, ok := as.usernameParam(rw, req)
	if !ok {
		return
	}
	exists, err := as.authn.UserExists(req.Context(), user)
	if err != nil {
		http.Error(rw, "Lookup failed", http.StatusInternalServerError)
		return
	}
	as.writeJSON(rw, http.StatusOK, map[string]bool{"exists": exists})
}

func (as *AuthServer) usernameParam(rw http.ResponseWriter, req *http.Request) (string, bool) {
	if req.Method != http.MethodGet {
		rw.Header().Set("Allow", http.MethodGet)
		http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	q := req.URL.Query()
	if _, ok := q["username"]; !ok {
		http.Error(rw, "Bad request: username is required", http.StatusBadRequest)
		return "", false
	}
	return q.Get("username"), true
}

func (as *AuthServer) writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	result, _ := json.Marshal(v)
	glog.V(3).Infof("%s", result)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(result)
}

func (as *AuthServer) Stop() {
	as.authn.Stop()
	glog.Infof("Server stopped")
}
