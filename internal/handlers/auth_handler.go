package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shopflow/internal/middleware"
	"shopflow/internal/models"
	"shopflow/internal/services"
)

const msgForgotPassword = "if the email is registered, a password reset code has been sent"

type AuthHandler struct {
	auth    services.AuthService
	cookies CookieOptions
	logger  *slog.Logger
}

func NewAuthHandler(auth services.AuthService, cookies CookieOptions, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies, logger: logger}
}

// @Summary      Регистрация
// @Description  Создаёт аккаунт и отправляет код подтверждения email
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.RegisterRequest  true  "Данные регистрации"
// @Success      201   {object}  Response
// @Failure      400   {object}  ErrorResponse
// @Failure      409   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	acc, err := h.auth.Register(c.Request.Context(), services.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "registration successful; check your email for the verification code", acc)
}

// @Summary      Вход в систему
// @Description  Проверяет username/email и пароль, выдаёт access и refresh токены
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.LoginRequest  true  "Данные для входа"
// @Success      200   {object}  Response{data=SessionData}
// @Failure      401   {object}  ErrorResponse
// @Failure      403   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	setSessionCookies(c, h.cookies, sess)
	respond(c, http.StatusOK, "login successful", sessionData(sess))
}

// @Summary      Обновление токенов
// @Description  Ротирует refresh токен (cookie или тело запроса) и выдаёт новую пару
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.RefreshRequest  false  "Refresh токен, если нет cookie"
// @Success      200   {object}  Response{data=SessionData}
// @Failure      401   {object}  ErrorResponse
// @Router       /auth/refresh-token [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	token, _ := c.Cookie(middleware.RefreshCookie)
	if strings.TrimSpace(token) == "" {
		var req models.RefreshRequest
		// пустое тело допустимо: тогда токена просто нет
		_ = c.ShouldBindJSON(&req)
		token = req.RefreshToken
	}
	sess, err := h.auth.RefreshAccessToken(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		clearSessionCookies(c, h.cookies)
		respondError(c, err)
		return
	}
	setSessionCookies(c, h.cookies, sess)
	respond(c, http.StatusOK, "token refreshed", sessionData(sess))
}

// @Summary      Выход
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Response
// @Failure      401  {object}  ErrorResponse
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	id, ok := accountIDFromCtx(c)
	if !ok {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	clearSessionCookies(c, h.cookies)
	respond(c, http.StatusOK, "logged out", nil)
}

// @Summary      Подтверждение email
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.VerifyEmailRequest  true  "Код из письма"
// @Success      200   {object}  Response
// @Failure      400   {object}  ErrorResponse
// @Router       /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req models.VerifyEmailRequest
	if !bindJSON(c, &req) {
		return
	}
	acc, err := h.auth.VerifyEmailOTP(c.Request.Context(), req.OTP)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "email verified", acc)
}

// @Summary      Повторная отправка кода подтверждения
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.EmailRequest  true  "Email"
// @Success      200   {object}  Response
// @Failure      404   {object}  ErrorResponse
// @Failure      409   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req models.EmailRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "verification code sent", nil)
}

// @Summary      Запрос сброса пароля
// @Description  Ответ одинаковый для зарегистрированных и неизвестных адресов
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.EmailRequest  true  "Email"
// @Success      200   {object}  Response
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.EmailRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.InitiatePasswordReset(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msgForgotPassword, nil)
}

// @Summary      Сброс пароля по коду
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.ResetPasswordRequest  true  "Код и новый пароль"
// @Success      200   {object}  Response
// @Failure      400   {object}  ErrorResponse
// @Router       /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.OTP, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	clearSessionCookies(c, h.cookies)
	respond(c, http.StatusOK, "password has been reset; please log in again", nil)
}
