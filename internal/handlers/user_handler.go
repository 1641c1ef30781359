package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shopflow/internal/models"
	"shopflow/internal/services"
)

type UserHandler struct {
	users   services.UserService
	cookies CookieOptions
}

func NewUserHandler(users services.UserService, cookies CookieOptions) *UserHandler {
	return &UserHandler{users: users, cookies: cookies}
}

// @Summary      Текущий пользователь
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Response{data=models.Account}
// @Failure      401  {object}  ErrorResponse
// @Router       /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	id, ok := accountIDFromCtx(c)
	if !ok {
		return
	}
	acc, err := h.users.CurrentAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "ok", acc)
}

// @Summary      Обновление профиля
// @Tags         Users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.UpdateProfileRequest  true  "Поля профиля"
// @Success      200   {object}  Response{data=models.Account}
// @Failure      400   {object}  ErrorResponse
// @Failure      409   {object}  ErrorResponse
// @Router       /users/me [patch]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	id, ok := accountIDFromCtx(c)
	if !ok {
		return
	}
	var req models.UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	acc, err := h.users.UpdateProfile(c.Request.Context(), id, services.ProfileUpdate{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "profile updated", acc)
}

// @Summary      Смена пароля
// @Tags         Users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.ChangePasswordRequest  true  "Текущий и новый пароль"
// @Success      200   {object}  Response
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Router       /users/change-password [post]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	id, ok := accountIDFromCtx(c)
	if !ok {
		return
	}
	var req models.ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "password changed", nil)
}

// @Summary      Удаление своего аккаунта
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  Response
// @Failure      401  {object}  ErrorResponse
// @Router       /users/me [delete]
func (h *UserHandler) DeleteMe(c *gin.Context) {
	id, ok := accountIDFromCtx(c)
	if !ok {
		return
	}
	if err := h.users.DeleteAccount(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	clearSessionCookies(c, h.cookies)
	respond(c, http.StatusOK, "account deleted", nil)
}

// @Summary      Активация / деактивация аккаунта
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                   true  "ID аккаунта"
// @Param        body  body      models.SetStatusRequest  true  "Статус"
// @Success      200   {object}  Response{data=models.Account}
// @Failure      403   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /admin/users/{id}/status [patch]
func (h *UserHandler) SetStatus(c *gin.Context) {
	var req models.SetStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	acc, err := h.users.SetActive(c.Request.Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "status updated", acc)
}
