package common

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/lni/dragonboat/v4/logger"
)

var tlsLog = logger.GetLogger("rpc")

// ReloadableCreds holds TLS credentials that are re-read from disk whenever
// the underlying files change. Connections established after a successful
// reload use the new certificate; a failed reload keeps the previous
// credentials so the listener never serves with broken material.
type ReloadableCreds struct {
	cfg     TLSConfig
	cert    atomic.Pointer[tls.Certificate]
	names   atomic.Pointer[[]string]
	caPool  *x509.CertPool
	watcher *fsnotify.Watcher

	// onReload is invoked after every reload attempt with the identity names
	// of the currently served certificate and the reload error (nil on
	// success). Used by tests and by metrics.
	onReload atomic.Pointer[func([]string, error)]
}

// NewReloadableCreds loads the credentials and fails if they are invalid.
// Watching starts with Watch; without it the credentials are static.
func NewReloadableCreds(cfg TLSConfig) (*ReloadableCreds, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("tls: cert and key files must both be configured")
	}

	r := &ReloadableCreds{cfg: cfg}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: loading key pair: %v", err)
	}
	r.cert.Store(&cert)
	names := identityNames(&cert)
	r.names.Store(&names)

	if cfg.CAFile != "" {
		caData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: reading CA file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("tls: CA file %s contains no certificates", cfg.CAFile)
		}
		r.caPool = pool
	}

	return r, nil
}

// SetObserver registers a callback invoked after every reload attempt with
// the identity names of the certificate in service. After a failed reload
// those are still the previous certificate's names.
func (r *ReloadableCreds) SetObserver(fn func(names []string, err error)) {
	r.onReload.Store(&fn)
}

// Names returns the identity names (subject common name and DNS SANs) of the
// currently served certificate.
func (r *ReloadableCreds) Names() []string {
	if names := r.names.Load(); names != nil {
		return *names
	}
	return nil
}

// Watch starts watching the credential files for changes.
func (r *ReloadableCreds) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tls: creating watcher: %v", err)
	}
	r.watcher = watcher

	// Watch the parent directories: editors and cert-managers replace files
	// atomically (rename), which a file-level watch misses.
	dirs := map[string]struct{}{
		filepath.Dir(r.cfg.CertFile): {},
		filepath.Dir(r.cfg.KeyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("tls: watching %s: %v", dir, err)
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if r.relevant(event) {
					r.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				tlsLog.Warningf("tls watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops watching. Existing connections are unaffected.
func (r *ReloadableCreds) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// ServerConfig returns a tls.Config that always serves the current
// certificate.
func (r *ReloadableCreds) ServerConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return r.cert.Load(), nil
		},
		MinVersion: tls.VersionTLS12,
	}
	if r.caPool != nil {
		cfg.ClientCAs = r.caPool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig returns a tls.Config for outbound connections using the
// current certificate and the configured CA pool.
func (r *ReloadableCreds) ClientConfig() *tls.Config {
	return &tls.Config{
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return r.cert.Load(), nil
		},
		RootCAs:    r.caPool,
		MinVersion: tls.VersionTLS12,
	}
}

// relevant reports whether the event touches one of the credential files.
func (r *ReloadableCreds) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == filepath.Clean(r.cfg.CertFile) || name == filepath.Clean(r.cfg.KeyFile)
}

// reload re-reads the key pair. On failure the previous certificate stays
// active.
func (r *ReloadableCreds) reload() {
	cert, err := tls.LoadX509KeyPair(r.cfg.CertFile, r.cfg.KeyFile)
	if err != nil {
		tlsLog.Errorf("tls reload failed, keeping previous credentials: %v", err)
	} else {
		r.cert.Store(&cert)
		names := identityNames(&cert)
		r.names.Store(&names)
		tlsLog.Infof("tls credentials reloaded from %s (%v)", r.cfg.CertFile, names)
	}

	if fn := r.onReload.Load(); fn != nil {
		(*fn)(r.Names(), err)
	}
}

// identityNames extracts the subject common name and the DNS SANs from the
// leaf certificate.
func identityNames(cert *tls.Certificate) []string {
	if cert == nil || len(cert.Certificate) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil
	}
	var names []string
	if leaf.Subject.CommonName != "" {
		names = append(names, leaf.Subject.CommonName)
	}
	names = append(names, leaf.DNSNames...)
	return names
}

// Reload triggers an immediate reload attempt. Exposed for the admin API.
func (r *ReloadableCreds) Reload() {
	r.reload()
}
