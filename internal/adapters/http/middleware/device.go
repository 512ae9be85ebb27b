package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const deviceContextKey contextKey = "device"

// DeviceCookieName holds the browser's device id. Every tab of a browser
// shares it, and with it the identity session.
const DeviceCookieName = "absences_device"

// deviceCookieMaxAge is one year.
const deviceCookieMaxAge = 365 * 24 * 60 * 60

// SecureCookies marks cookies Secure. Set it when serving over HTTPS.
var SecureCookies = false

// Device returns middleware that puts the browser's device id in the
// request context, issuing a new one when the cookie is missing or malformed.
// POST: DeviceFromContext succeeds for every downstream handler
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(DeviceCookieName); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.New().String()
			SetDeviceCookie(w, id)
		}
		next.ServeHTTP(w, r.WithContext(ContextWithDevice(r.Context(), id)))
	})
}

// DeviceFromContext extracts the device id from the request context.
func DeviceFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceContextKey).(string)
	return id, ok && id != ""
}

// ContextWithDevice returns a context carrying a device id.
func ContextWithDevice(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceContextKey, id)
}

// SetDeviceCookie sets the device cookie on the response. Lax, not Strict:
// the cookie must arrive on the top-level navigation from an emailed link.
func SetDeviceCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		HttpOnly: true,
		Secure:   SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   deviceCookieMaxAge,
	})
}

// ClearDeviceCookie removes the device cookie.
func ClearDeviceCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    "",
		HttpOnly: true,
		Secure:   SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   -1,
	})
}
