package swagger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/smartystreets/goconvey/convey"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a swagger handler", t, func() {
		ctx := context.Background()
		mux := http.NewServeMux()

		convey.Convey("When registering the swagger handler", func() {
			Register(ctx, mux)

			convey.Convey("Then it should handle /openapi.yaml route", func() {
				req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
				convey.So(w.Body.Len(), convey.ShouldBeGreaterThan, 0)
			})

			convey.Convey("And it should handle /api-docs route", func() {
				req := httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, RedocScriptURL)
			})

			convey.Convey("And it should reject other methods", func() {
				req := httptest.NewRequest(http.MethodPost, "/openapi.yaml", http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})
}

func TestSwaggerScriptURL(t *testing.T) {
	convey.Convey("Given a self-hosted ReDoc bundle", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux, WithScriptURL("/static/redoc.standalone.js"))

		convey.Convey("Then the docs page loads it instead of the CDN", func() {
			req := httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `src="/static/redoc.standalone.js"`)
			convey.So(w.Body.String(), convey.ShouldNotContainSubstring, RedocScriptURL)
		})
	})

	convey.Convey("Given an empty script URL", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux, WithScriptURL(""))
		req := httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		convey.So(w.Body.String(), convey.ShouldContainSubstring, RedocScriptURL)
	})
}

func TestOpenAPIDocument(t *testing.T) {
	convey.Convey("Given the embedded OpenAPI document", t, func() {
		doc, err := yaml.Parser().Unmarshal(OpenAPI)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then it describes every served route", func() {
			paths, ok := doc["paths"].(map[string]any)
			convey.So(ok, convey.ShouldBeTrue)
			for _, p := range []string{"/health", "/metrics", "/attest", "/attest/{id}"} {
				convey.So(paths, convey.ShouldContainKey, p)
			}
		})

		convey.Convey("And it declares the API key scheme", func() {
			components := doc["components"].(map[string]any)
			schemes := components["securitySchemes"].(map[string]any)
			key := schemes["ApiKey"].(map[string]any)
			convey.So(key["name"], convey.ShouldEqual, "x-api-key")
			convey.So(key["in"], convey.ShouldEqual, "header")
		})
	})
}

func TestSwaggerHandlerWithNilMux(t *testing.T) {
	convey.Convey("Given a nil mux", t, func() {
		convey.So(func() { Register(context.Background(), nil) }, convey.ShouldPanic)
	})
}
