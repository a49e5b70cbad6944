package validator

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"cliprelay/proxypool/model"
)

// closedPort reserves a loopback port and releases it so dials to it
// fail fast with connection refused.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func testCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"www.youtube.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// startConnectProxy runs a fake forward proxy that answers CONNECT,
// terminates TLS itself, and serves the tunneled HEAD with a 200. The
// probe skips certificate verification, so a self-signed cert passes.
func startConnectProxy(t *testing.T) *httptest.Server {
	t.Helper()
	cert := testCert(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			t.Errorf("proxy received method %s, want CONNECT", r.Method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()

		if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			return
		}
		tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
		defer tlsConn.Close()
		if err := tlsConn.Handshake(); err != nil {
			t.Errorf("tunnel handshake: %v", err)
			return
		}
		req, err := http.ReadRequest(bufio.NewReader(tlsConn))
		if err != nil {
			t.Errorf("read tunneled request: %v", err)
			return
		}
		if req.Method != http.MethodHead {
			t.Errorf("tunneled method = %s, want HEAD", req.Method)
		}
		tlsConn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// startSocksServer runs a one-shot SOCKS5 server that accepts any
// CONNECT and then holds the tunnel open until the client hangs up.
func startSocksServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 262)
		if _, err := io.ReadFull(conn, buf[:2]); err != nil {
			return
		}
		if _, err := io.ReadFull(conn, buf[:int(buf[1])]); err != nil {
			return
		}
		conn.Write([]byte{0x05, 0x00})

		if _, err := io.ReadFull(conn, buf[:4]); err != nil {
			return
		}
		switch buf[3] {
		case 0x01:
			io.ReadFull(conn, buf[:4+2])
		case 0x03:
			if _, err := io.ReadFull(conn, buf[:1]); err != nil {
				return
			}
			io.ReadFull(conn, buf[:int(buf[0])+2])
		case 0x04:
			io.ReadFull(conn, buf[:16+2])
		}
		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		io.Copy(io.Discard, conn)
	}()
	return ln
}

func endpointFor(t *testing.T, rawURL, scheme string) *model.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split %q: %v", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return &model.Endpoint{Scheme: scheme, Host: host, Port: port}
}

func TestCheckAllEmptyReturnsNil(t *testing.T) {
	v := New(time.Second, 1)
	if res := v.CheckAll(context.Background(), nil); res != nil {
		t.Errorf("CheckAll(nil) = %v, want nil", res)
	}
}

func TestCheckAllReportsUnreachableEndpoints(t *testing.T) {
	port := closedPort(t)
	eps := []*model.Endpoint{
		{Scheme: model.SchemeHTTP, Host: "127.0.0.1", Port: port},
		{Scheme: model.SchemeSOCKS5, Host: "127.0.0.1", Port: port},
	}

	v := New(2*time.Second, 2)
	results := v.CheckAll(context.Background(), eps)
	if len(results) != 2 {
		t.Fatalf("CheckAll returned %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.OK {
			t.Errorf("endpoint %s (%s) reported OK through a closed port", r.Key, r.Scheme)
		}
		if r.Error == "" {
			t.Errorf("endpoint %s missing error detail", r.Key)
		}
	}
}

func TestCheckHTTPProxyViaConnectTunnel(t *testing.T) {
	srv := startConnectProxy(t)
	ep := endpointFor(t, srv.URL, model.SchemeHTTP)

	v := New(5*time.Second, 1)
	latency, err := v.Check(context.Background(), ep)
	if err != nil {
		t.Fatalf("Check through fake proxy: %v", err)
	}
	if latency <= 0 {
		t.Errorf("latency = %v, want > 0", latency)
	}
}

func TestCheckSocksProxyHandshake(t *testing.T) {
	ln := startSocksServer(t)
	ep := endpointFor(t, "http://"+ln.Addr().String(), model.SchemeSOCKS5)

	v := New(5*time.Second, 1)
	latency, err := v.Check(context.Background(), ep)
	if err != nil {
		t.Fatalf("Check through fake SOCKS server: %v", err)
	}
	if latency <= 0 {
		t.Errorf("latency = %v, want > 0", latency)
	}
}
