package browser_test

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"absences/internal/adapters/email"
	web "absences/internal/adapters/http"
	idp "absences/internal/adapters/identity"
	"absences/internal/adapters/storage"
	accountStore "absences/internal/adapters/storage/account"
	tokenStore "absences/internal/adapters/storage/authtoken"
	sessionStore "absences/internal/adapters/storage/devicesession"
	"absences/internal/application/orchestrators"
	"absences/internal/application/shell"
	"absences/internal/domain/identity"
)

const (
	teacherEmail    = "teacher@test.com"
	teacherPassword = "TestPass123!"
)

// testApp holds the running test server and Playwright handles.
type testApp struct {
	BaseURL string
	Sender  *email.NoopSender
	Server  *http.Server
	PW      *playwright.Playwright
	Browser playwright.Browser
}

// newTestApp creates a fully wired app with a temp SQLite DB and starts an HTTP server.
func newTestApp(t *testing.T, mode identity.DeliveryMode) *testApp {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	if err := storage.MigrateDB(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate test DB: %v", err)
	}

	accounts := accountStore.NewSQLiteStore(db)
	if _, err := orchestrators.ExecuteCreateAccount(context.Background(), orchestrators.CreateAccountInput{
		Email:    teacherEmail,
		Password: teacherPassword,
	}, orchestrators.CreateAccountDeps{AccountStore: accounts}); err != nil {
		t.Fatalf("failed to create teacher: %v", err)
	}

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	sender := email.NewNoopSender()
	server, err := idp.NewServer(idp.Config{
		SiteURL:    baseURL + "/",
		Mode:       mode,
		SigningKey: []byte(strings.Repeat("k", 32)),
	}, idp.Deps{
		Accounts: accounts,
		Tokens:   tokenStore.NewSQLiteStore(db),
		Sessions: sessionStore.NewSQLiteStore(db),
		Sender:   sender,
	})
	if err != nil {
		t.Fatalf("failed to create identity server: %v", err)
	}

	mux := web.NewMux(filepath.Join(findProjectRoot(t), "static"), web.Deps{
		Identity:           server,
		Shell:              shell.Config{Timing: shell.DefaultTiming(), RedirectTo: baseURL + "/"},
		CSRFKey:            []byte(strings.Repeat("c", 32)),
		TrustedOrigins:     []string{fmt.Sprintf("127.0.0.1:%d", port)},
		RateLimitPerSecond: 100,
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("test server error: %v", err)
		}
	}()

	// Wait for server to be ready
	for i := 0; i < 50; i++ {
		resp, err := http.Get(baseURL + "/")
		if err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	pw, err := playwright.Run()
	if err != nil {
		t.Fatalf("failed to start Playwright: %v", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		t.Fatalf("failed to launch browser: %v", err)
	}

	app := &testApp{
		BaseURL: baseURL,
		Sender:  sender,
		Server:  srv,
		PW:      pw,
		Browser: browser,
	}

	t.Cleanup(func() {
		browser.Close()
		pw.Stop()
		srv.Close()
		mux.Close()
		db.Close()
	})

	return app
}

// newPage creates a new browser page (tab).
func (a *testApp) newPage(t *testing.T) playwright.Page {
	t.Helper()
	page, err := a.Browser.NewPage()
	if err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	t.Cleanup(func() { page.Close() })
	return page
}

// waitForView waits until the page renders the named view.
func waitForView(t *testing.T, page playwright.Page, kind string) {
	t.Helper()
	err := page.Locator(fmt.Sprintf("body[data-view=%q]", kind)).WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(10000),
	})
	if err != nil {
		t.Fatalf("view %q never rendered: %v", kind, err)
	}
}

// fill types into an input, failing the test on error.
func fill(t *testing.T, page playwright.Page, selector, value string) {
	t.Helper()
	if err := page.Locator(selector).Fill(value); err != nil {
		t.Fatalf("failed to fill %s: %v", selector, err)
	}
}

// click clicks an element, failing the test on error.
func click(t *testing.T, page playwright.Page, selector string) {
	t.Helper()
	if err := page.Locator(selector).Click(); err != nil {
		t.Fatalf("failed to click %s: %v", selector, err)
	}
}

// lastRecoveryLink returns the link in the most recent recovery email.
func (a *testApp) lastRecoveryLink(t *testing.T) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sent := a.Sender.Sent(); len(sent) > 0 {
			text := sent[len(sent)-1].Text
			i := strings.Index(text, a.BaseURL)
			if i < 0 {
				t.Fatalf("no link in recovery email: %q", text)
			}
			return strings.Fields(text[i:])[0]
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("no recovery email was sent")
	return ""
}

// findProjectRoot walks up from the working directory to find the project root (contains go.mod).
func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find project root (go.mod) from working directory")
		}
		dir = parent
	}
}
