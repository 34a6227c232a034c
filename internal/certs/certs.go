// Package certs locates TLS certificate material for the daemon's HTTPS
// listener, falling back to on-demand ACME provisioning via lego before
// finally telling the caller to serve plaintext.
package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Pair is the filesystem location of a certificate and its private key.
type Pair struct {
	CertFile string
	KeyFile  string
}

// Store searches a fixed list of directories for certificate material
// named after a hostname, each directory expected to lay out
// <dir>/<hostname>/fullchain.pem and <dir>/<hostname>/privkey.pem.
type Store struct {
	dirs []string
}

// NewStore returns a Store that searches dirs in order.
func NewStore(dirs ...string) *Store {
	return &Store{dirs: dirs}
}

// Lookup returns the first matching certificate pair for hostname across
// the store's directories. ok is false if none was found, in which case
// the caller should fall back to plaintext or attempt Provision.
func (s *Store) Lookup(hostname string) (Pair, bool) {
	for _, dir := range s.dirs {
		cert := filepath.Join(dir, hostname, "fullchain.pem")
		key := filepath.Join(dir, hostname, "privkey.pem")
		if fileExists(cert) && fileExists(key) {
			return Pair{CertFile: cert, KeyFile: key}, true
		}
	}
	return Pair{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// acmeUser adapts an ECDSA key pair to lego's registration.User.
type acmeUser struct {
	email string
	reg   *registration.Resource
	key   crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.reg }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// Provisioner obtains certificates on demand via the ACME HTTP-01
// challenge and writes them into the Store's first configured directory.
type Provisioner struct {
	store     *Store
	email     string
	httpPort  string
	directory string
}

// NewProvisioner returns a Provisioner that answers HTTP-01 challenges on
// httpPort (typically "80") and registers with email against the given
// ACME directory URL (lego.LEDirectoryProduction or ...Staging).
func NewProvisioner(store *Store, email, httpPort, directoryURL string) *Provisioner {
	return &Provisioner{store: store, email: email, httpPort: httpPort, directory: directoryURL}
}

// Provision requests and persists a certificate for hostname, writing it
// into the store's first directory in the layout Lookup expects.
func (p *Provisioner) Provision(hostname string) (Pair, error) {
	if len(p.store.dirs) == 0 {
		return Pair{}, errors.New("certs: no certificate directory configured")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Pair{}, fmt.Errorf("certs: generate account key: %w", err)
	}
	user := &acmeUser{email: p.email, key: key}

	cfg := lego.NewConfig(user)
	cfg.CADirURL = p.directory
	cfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(cfg)
	if err != nil {
		return Pair{}, fmt.Errorf("certs: new acme client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", p.httpPort)); err != nil {
		return Pair{}, fmt.Errorf("certs: configure http-01 challenge: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return Pair{}, fmt.Errorf("certs: register acme account: %w", err)
	}
	user.reg = reg

	resource, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{hostname},
		Bundle:  true,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("certs: obtain certificate for %s: %w", hostname, err)
	}

	dir := filepath.Join(p.store.dirs[0], hostname)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Pair{}, fmt.Errorf("certs: create %s: %w", dir, err)
	}
	certFile := filepath.Join(dir, "fullchain.pem")
	keyFile := filepath.Join(dir, "privkey.pem")
	if err := os.WriteFile(certFile, resource.Certificate, 0o600); err != nil {
		return Pair{}, fmt.Errorf("certs: write %s: %w", certFile, err)
	}
	if err := os.WriteFile(keyFile, resource.PrivateKey, 0o600); err != nil {
		return Pair{}, fmt.Errorf("certs: write %s: %w", keyFile, err)
	}
	return Pair{CertFile: certFile, KeyFile: keyFile}, nil
}
