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

package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cesanta/glog"
	"golang.org/x/crypto/acme/autocert"

	"github.com/cesanta/phpbb_auth/passwords"
	"github.com/cesanta/phpbb_auth/server"
	_ "github.com/cesanta/phpbb_auth/store/sqlstore"
	_ "github.com/cesanta/phpbb_auth/store/staticstore"
	_ "github.com/cesanta/phpbb_auth/store/xormstore"
)

const envPrefix = "PHPBB_AUTH"

var (
	hashDriver = flag.String("hash", "", "Read a password from stdin, print its hash made with this driver and exit.")
	loginName  = flag.String("login_name", "", "Login name for drivers that mix it into the hash (sha1_smf).")
)

func hashPassword(driver string) error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("could not read password: %s", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}
	pm := passwords.NewManager(passwords.Drivers()...)
	h, err := pm.Hash(driver, password, passwords.Subject{LoginName: *loginName})
	if err != nil {
		return fmt.Errorf("%s (known drivers: %s)", err, strings.Join(pm.Names(), ", "))
	}
	fmt.Println(h)
	return nil
}

func listen(sc *server.ServerConfig) (net.Listener, error) {
	if sc.Net == "unix" {
		// A stale socket from a previous run would make Listen fail.
		os.Remove(sc.ListenAddress)
	}
	l, err := net.Listen(sc.Net, sc.ListenAddress)
	if err != nil {
		return nil, err
	}
	switch {
	case sc.CertFile != "":
		cert, err := tls.LoadX509KeyPair(sc.CertFile, sc.KeyFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("could not load certificate: %s", err)
		}
		l = tls.NewListener(l, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		})
	case sc.LetsEncrypt.Email != "":
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      sc.LetsEncrypt.Email,
			HostPolicy: autocert.HostWhitelist(sc.LetsEncrypt.Host),
			Cache:      autocert.DirCache(sc.LetsEncrypt.CacheDir),
		}
		glog.Infof("Using LetsEncrypt for %s, cache in %s", sc.LetsEncrypt.Host, sc.LetsEncrypt.CacheDir)
		l = tls.NewListener(l, m.TLSConfig())
	default:
		glog.Warningf("Running without TLS, passwords travel in clear text")
	}
	return l, nil
}

func main() {
	flag.Parse()

	if *hashDriver != "" {
		if err := hashPassword(*hashDriver); err != nil {
			glog.Exitf("Failed to hash password: %s", err)
		}
		return
	}

	configFile := flag.Arg(0)
	if configFile == "" {
		glog.Exitf("Config file not specified")
	}
	config, err := server.LoadConfig(configFile, envPrefix)
	if err != nil {
		glog.Exitf("Failed to load config: %s", err)
	}
	glog.Infof("Config from %s (store %s, groups %v)", configFile, config.Store.Backend, config.PhpBB.Groups)

	as, err := server.NewAuthServer(config)
	if err != nil {
		glog.Exitf("Failed to create auth server: %s", err)
	}

	sc := &config.Server
	l, err := listen(sc)
	if err != nil {
		glog.Exitf("Failed to listen on %s: %s", sc.ListenAddress, err)
	}
	hs := &http.Server{
		Handler:           as,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		glog.Infof("Listening on %s", l.Addr())
		if err := hs.Serve(l); err != nil && err != http.ErrServerClosed {
			glog.Exitf("Failed to set up server: %s", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	glog.Infof("Got %s, shutting down", sig)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(ctx); err != nil {
		glog.Warningf("Shutdown: %s", err)
	}
	as.Stop()
	glog.Flush()
}
