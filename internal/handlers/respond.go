// Package handlers implements the client-facing Subsonic REST surface:
// merged search, external metadata, streaming with fetch-on-demand, and the
// passthrough to the backend media server for everything else.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crescendo/internal/provider"
	"crescendo/pkg/subsonic"
)

// SendResponse answers in XML by default, or JSON when the client asks with
// f=json. Subsonic clients pick the format per request.
func SendResponse(c *gin.Context, resp subsonic.Response) {
	if c.Query("f") == "json" {
		c.JSON(http.StatusOK, gin.H{"subsonic-response": resp})
		return
	}
	c.XML(http.StatusOK, resp)
}

// SendError sends a Subsonic error envelope. The HTTP status stays 200, as
// the protocol carries failure in the body.
func SendError(c *gin.Context, code int, message string) {
	resp := subsonic.Response{
		Status:  subsonic.StatusFailed,
		Version: subsonic.Version,
		Error: &subsonic.Error{
			Code:    code,
			Message: message,
		},
	}
	SendResponse(c, resp)
}

// sendClassifiedError translates an internal error into the matching
// Subsonic error code, so auth problems reach the client as code 40 instead
// of a generic failure.
func sendClassifiedError(c *gin.Context, err error) {
	code := subsonic.ErrGeneric
	switch provider.KindOf(err) {
	case provider.KindUnauthenticated:
		code = subsonic.ErrWrongUserPass
	case provider.KindUnauthorized:
		code = subsonic.ErrNotAuthorized
	case provider.KindNotFound:
		code = subsonic.ErrDataNotFound
	}
	SendError(c, code, err.Error())
}
