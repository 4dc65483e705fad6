// ABOUTME: Identification middleware resolving callers before any handler runs
// ABOUTME: Bearer JWTs resolve operators; visitor tokens resolve (or mint) customers

package transport

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/fault"
)

var errBadAuthHeader = fault.InvalidArgument("malformed authorization header")

// visitorHeader carries the customer's opaque visitor token. The server
// echoes it back (minting one on first contact) so the client can persist it.
const visitorHeader = "X-Visitor-Token"

// identify resolves the caller and stores the participant in the request
// context. Operators present a Bearer JWT; everyone else is a customer.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		if auth := req.Header.Get(echo.HeaderAuthorization); auth != "" {
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				return respondErr(c, errBadAuthHeader)
			}
			p, err := s.directory.IdentifyOperator(req.Context(), token)
			if err != nil {
				return respondErr(c, err)
			}
			c.SetRequest(req.WithContext(directory.WithParticipant(req.Context(), p)))
			return next(c)
		}

		p, visitorID, err := s.directory.IdentifyCustomer(req.Context(), directory.CallerContext{
			VisitorID: req.Header.Get(visitorHeader),
			IPAddress: c.RealIP(),
			UserAgent: req.UserAgent(),
		})
		if err != nil {
			return respondErr(c, err)
		}
		c.Response().Header().Set(visitorHeader, visitorID)
		c.SetRequest(req.WithContext(directory.WithParticipant(req.Context(), p)))
		return next(c)
	}
}

// participant returns the resolved caller. The identify middleware runs on
// every route, so a missing participant is a programming error.
func participant(c echo.Context) directory.Participant {
	p, _ := directory.FromContext(c.Request().Context())
	return p
}
