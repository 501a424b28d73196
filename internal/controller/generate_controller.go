// internal/controller/generate_controller.go
package controller

import (
	"errors"
	"io"
	"net/http"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/generate"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

// maxAudioBytes matches the transcription upstream's upload limit.
const maxAudioBytes = 25 << 20

type GenerateController struct {
	Responder
	GenerationService *service.GenerationService
}

func (c *GenerateController) GenerateLetter(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	var body generate.LetterPrompt
	if !c.decodeBody(w, r, &body) {
		return
	}
	if body.Context == "" {
		c.Error(w, appErrors.NewValidation("context", "is required"))
		return
	}

	letter, err := c.GenerationService.GenerateLetter(r.Context(), accountID, body)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"letter": letter})
}

func (c *GenerateController) GenerateImages(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		Prompt string `json:"prompt"`
		Count  int    `json:"count"`
	}
	if !c.decodeBody(w, r, &body) {
		return
	}
	if body.Prompt == "" {
		c.Error(w, appErrors.NewValidation("prompt", "is required"))
		return
	}
	if body.Count == 0 {
		body.Count = service.MaxImagesPerRequest
	}

	result, err := c.GenerationService.GenerateImages(r.Context(), accountID, body.Prompt, body.Count)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Transcribe expects a multipart form with the recording in the "audio" field.
func (c *GenerateController) Transcribe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		c.Error(w, appErrors.NewValidation("audio", "multipart field is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(w, appErrors.NewValidation("audio", "file too large"))
			return
		}
		c.Error(w, err)
		return
	}

	text, err := c.GenerationService.Transcribe(r.Context(), accountID, audio, header.Filename)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (c *GenerateController) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	var body struct {
		ImageURL string `json:"imageUrl"`
	}
	if !c.decodeBody(w, r, &body) {
		return
	}

	desc, err := c.GenerationService.AnalyzeImage(r.Context(), accountID, body.ImageURL)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"description": desc})
}
