package notify

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// SessionAuth carries the signed platform JWT used by the channel and the
// api. Claims are read without verification here; signatures are verified
// by the platform.
type SessionAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

func (self *SessionAuth) UserId() (Id, error) {
	sessionJwt, err := ParseSessionJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return sessionJwt.UserId, nil
}

type SessionJwt struct {
	UserId    Id
	SessionId Id
	UserName  string
}

func ParseSessionJwtUnverified(byJwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionJwt := &SessionJwt{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			sessionJwt.UserId = userId
		}
	}
	if sessionIdStr, ok := claims["session_id"].(string); ok {
		if sessionId, err := ParseId(sessionIdStr); err == nil {
			sessionJwt.SessionId = sessionId
		}
	}
	if userName, ok := claims["user_name"].(string); ok {
		sessionJwt.UserName = userName
	}

	return sessionJwt, nil
}
