package rest

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProfileIndex is the optional catalog file next to the profile JSONs
type ProfileIndex struct {
	Vendor      string       `yaml:"vendor"`
	Description string       `yaml:"description"`
	Website     string       `yaml:"website"`
	Profiles    []ProfileRef `yaml:"profiles"`
}

type ProfileRef struct {
	ID          string `yaml:"id"`
	File        string `yaml:"file"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tested      bool   `yaml:"tested"`
	Datasheet   string `yaml:"datasheet"`
}

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	searchPaths := s.lm.Config().Profiles.SearchPaths
	available := s.lm.Profiles().Available()

	catalogs := make([]gin.H, 0)

	for _, searchPath := range searchPaths {
		indexPath := filepath.Join(searchPath, "index.yaml")

		if _, err := os.Stat(indexPath); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(indexPath)
		if err != nil {
			s.logger.Error("Failed to read profile index",
				zap.String("path", indexPath),
				zap.Error(err))
			continue
		}

		var index ProfileIndex
		if err := yaml.Unmarshal(data, &index); err != nil {
			s.logger.Error("Failed to parse profile index",
				zap.String("path", indexPath),
				zap.Error(err))
			continue
		}

		catalogs = append(catalogs, gin.H{
			"vendor":      index.Vendor,
			"description": index.Description,
			"website":     index.Website,
			"profiles":    index.Profiles,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"available": available,
		"catalogs":  catalogs,
		"count":     len(available),
	})
}

// GET /api/v1/profiles/:id
func (s *Server) getProfile(c *gin.Context) {
	profileID := c.Param("id")

	profile, err := s.lm.Profiles().Load(profileID)
	if err != nil {
		s.logger.Warn("Profile not found",
			zap.String("profile_id", profileID),
			zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "profile not found",
			"profile_id": profileID,
		})
		return
	}

	c.JSON(http.StatusOK, profile)
}
