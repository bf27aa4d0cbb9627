package upload

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	ConnId   string `json:"conn_id"`
	UploadId string `json:"upload_id"`
	jwt.RegisteredClaims
}

func newId() string {
	return uuid.NewString()
}

func (s *service) generateJWT(connId, uploadId string) (string, error) {
	now := s.now()
	claims := Claims{
		ConnId:   connId,
		UploadId: uploadId,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.secret)
}

func (s *service) parseJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.ConnId == "" || claims.UploadId == "" {
		return nil, errors.New("missing claims")
	}

	return claims, nil
}
