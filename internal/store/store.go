package store

import (
	"crypto/rand"
	"encoding/base64"
	"log"

	"github.com/learnhub-io/identity/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

// Options controls optional store behavior.
type Options struct {
	Seed bool // create default admin identity and client when the tables are empty
}

func New(driver, dsn string, opts Options) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Identity{},
		&models.Session{},
		&models.Grant{},
		&models.Client{},
		&models.RolePermission{},
	); err != nil {
		return nil, err
	}

	s := &Store{db: db}

	if opts.Seed {
		if err := s.seedData(); err != nil {
			log.Printf("[Store] Warning: failed to seed data: %v", err)
		}
	}

	return s, nil
}

func (s *Store) seedData() error {
	var identityCount int64
	s.db.Model(&models.Identity{}).Count(&identityCount)
	if identityCount == 0 {
		password, err := generateRandomPassword(16)
		if err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		admin := &models.Identity{
			Username:     "admin",
			Email:        "admin@localhost",
			PasswordHash: string(hash),
			Role:         "admin",
			Status:       "active",
		}
		if err := s.db.Create(admin).Error; err != nil {
			return err
		}
		log.Printf("[Store] Created default identity: admin / %s (role: admin)", password)
	}

	var clientCount int64
	s.db.Model(&models.Client{}).Count(&clientCount)
	if clientCount == 0 {
		clientID := uuid.New().String()
		clientSecret := uuid.New().String()
		secretHash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		client := &models.Client{
			ClientID:                clientID,
			SecretHash:              string(secretHash),
			Name:                    "Platform Web",
			RedirectURIs:            "http://localhost:3000/callback",
			GrantTypes:              "authorization_code,refresh_token,urn:ietf:params:oauth:grant-type:device_code",
			ResponseTypes:           "code",
			Scopes:                  "openid profile email",
			TokenEndpointAuthMethod: "client_secret_basic",
			IsActive:                true,
		}
		if err := s.db.Create(client).Error; err != nil {
			return err
		}
		log.Printf("[Store] Created default OAuth client: %s", clientID)
		log.Printf("[Store] Client secret (save this): %s", clientSecret)
	}

	var permissionCount int64
	s.db.Model(&models.RolePermission{}).Count(&permissionCount)
	if permissionCount == 0 {
		defaults := map[string][]string{
			"admin": {"perm:clients.manage", "perm:identities.manage", "perm:sessions.revoke"},
			"user":  {"perm:profile.read", "perm:profile.write"},
		}
		for role, permissions := range defaults {
			for _, permission := range permissions {
				if err := s.GrantPermission(role, permission); err != nil {
					return err
				}
			}
		}
		log.Printf("[Store] Seeded default role permissions")
	}

	return nil
}

// generateRandomPassword generates a random password of specified length
func generateRandomPassword(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	// Base64 URL encoding yields a safe, printable password
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// DB returns the underlying GORM database connection (for transactions)
func (s *Store) DB() *gorm.DB {
	return s.db
}
