// internal/handlers/auth.go
package handlers

import (
	"companion-back/internal/auth"
	"companion-back/internal/middleware"
	"companion-back/internal/models"
	"companion-back/internal/store"
	"companion-back/internal/whatsapp"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Phone    string `json:"phone" binding:"required,e164"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Phone    string `json:"phone" binding:"required,e164"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Cookie configures the auth cookie.
type Cookie struct {
	Domain string
	Secure bool
}

func (ck Cookie) set(c *gin.Context, token string, maxAge int) {
	c.SetCookie(middleware.AuthCookie, token, maxAge, "/", ck.Domain, ck.Secure, true)
}

func Register(st *store.Store, tokens *auth.TokenManager, cookie Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Hash password
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}

		user := models.User{
			PhoneE164: req.Phone,
			Password:  string(hashedPassword),
			Name:      req.Name,
			WhatsApp:  models.UserWhatsApp{OptInStatus: models.OptInPending},
		}
		if err := st.CreateUser(c.Request.Context(), &user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "Phone already registered"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}

		token, err := tokens.GenerateToken(user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		cookie.set(c, token, int(auth.TokenTTL.Seconds()))

		c.JSON(http.StatusCreated, AuthResponse{
			Token: token,
			User:  user,
		})
	}
}

func Login(st *store.Store, tokens *auth.TokenManager, cookie Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := st.GetUserByPhone(c.Request.Context(), req.Phone)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := tokens.GenerateToken(user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		cookie.set(c, token, int(auth.TokenTTL.Seconds()))

		c.JSON(http.StatusOK, AuthResponse{
			Token: token,
			User:  *user,
		})
	}
}

func GetProfile(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := st.GetUser(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		c.JSON(http.StatusOK, user)
	}
}

func Logout(cookie Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie.set(c, "", -1)
		c.Status(http.StatusOK)
	}
}

type WhatsAppSettingsRequest struct {
	Phone       string             `json:"phone" binding:"omitempty,e164"`
	OptInStatus models.OptInStatus `json:"opt_in_status" binding:"required"`
}

// UpdateWhatsApp links (or with an empty phone, unlinks) the user's delivery
// address and sets the opt-in status.
func UpdateWhatsApp(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WhatsAppSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.OptInStatus.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid opt_in_status"})
			return
		}

		var phone *string
		if req.Phone != "" {
			normalized := whatsapp.NormalizeAddress(req.Phone)
			phone = &normalized
		}

		ctx := c.Request.Context()
		userID := middleware.UserID(c)
		if err := st.UpdateUserWhatsApp(ctx, userID, phone, req.OptInStatus); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			if errors.Is(err, store.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "WhatsApp number already linked to another account"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
			return
		}

		user, err := st.GetUser(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}
