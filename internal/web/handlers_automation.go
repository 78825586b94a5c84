package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"homewire/internal/automation"
)

type saveAutomationRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Devices     []string `json:"devices"`
	LuaCode     string   `json:"lua_code"`
	Enabled     bool     `json:"enabled"`
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	script, ok := s.lookupScript(w, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

// lookupScript writes the error response itself when it returns false.
func (s *Server) lookupScript(w http.ResponseWriter, id string) (*automation.Script, bool) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "automations not available")
		return nil, false
	}
	script, err := s.scriptMgr.Get(id)
	switch {
	case errors.Is(err, automation.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil, false
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return script, true
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "automations not available")
		return
	}

	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	saved, err := s.scriptMgr.Save(&automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
			Devices:     req.Devices,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.writeSaveError(w, "create script", err)
		return
	}

	if s.autoEngine != nil && saved.Meta.Enabled {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupScript(w, r.PathValue("id"))
	if !ok {
		return
	}

	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing.Meta.Name = req.Name
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.Meta.Devices = req.Devices
	existing.LuaCode = req.LuaCode

	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.writeSaveError(w, "update script", err)
		return
	}
	s.syncScript(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "automations not available")
		return
	}

	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	err := s.scriptMgr.Delete(id)
	switch {
	case errors.Is(err, automation.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	case err != nil:
		s.logger.Error("delete script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunAutomation runs a stored script once, or the body's lua_code
// when the id is "_inline".
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusNotFound, "automation engine not available")
		return
	}

	id := r.PathValue("id")
	if id == "_inline" {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	script, ok := s.lookupScript(w, r.PathValue("id"))
	if !ok {
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.writeSaveError(w, "toggle script", err)
		return
	}
	s.syncScript(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

// syncScript starts or stops the script's VM to match its enabled flag.
func (s *Server) syncScript(script *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if !script.Meta.Enabled {
		s.autoEngine.StopScript(script.ID)
		return
	}
	if err := s.autoEngine.ReloadScript(script.ID); err != nil {
		s.logger.Error("reload script", "id", script.ID, "err", err)
	}
}

func (s *Server) writeSaveError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, automation.ErrInvalidScript) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error(op, "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}
