package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tripwise.org/internal/auth"
)

type createTemplateRequest struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Permissions        map[string]bool `json:"permissions"`
	DefaultAccessScope string          `json:"default_access_scope"`
}

type updateTemplateRequest struct {
	Name               *string         `json:"name"`
	Description        *string         `json:"description"`
	Permissions        map[string]bool `json:"permissions"`
	DefaultAccessScope *string         `json:"default_access_scope"`
}

type assignRoleRequest struct {
	EmployeeID            string   `json:"employee_id"`
	RoleTemplateID        string   `json:"role_template_id"`
	AccessScope           string   `json:"access_scope"`
	AccessibleEmployeeIDs []string `json:"accessible_employee_ids"`
	AccessibleGroups      []string `json:"accessible_groups"`
}

type delegateRequest struct {
	DelegatorID    string     `json:"delegator_id"`
	DelegateID     string     `json:"delegate_id"`
	DelegationType string     `json:"delegation_type"`
	StartsAt       *time.Time `json:"starts_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type accessResponse struct {
	Employee              auth.Employee      `json:"employee"`
	Permissions           auth.PermissionSet `json:"permissions"`
	Global                bool               `json:"global"`
	AccessibleEmployeeIDs []string           `json:"accessible_employee_ids"`
}

func (a *API) myAccess(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	expanded, err := auth.Expand(r.Context(), p.Access, a.dir, auth.ActionView)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ids := expanded.IDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, accessResponse{
		Employee:              p.Employee,
		Permissions:           p.Access.Permissions,
		Global:                expanded.All,
		AccessibleEmployeeIDs: ids,
	})
}

func (a *API) permissionCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_version": auth.CatalogVersion,
		"groups":          auth.PermissionCatalog(),
	})
}

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.roles.ListTemplates(r.Context(), principalFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if templates == nil {
		templates = []auth.RoleTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (a *API) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tpl, err := a.roles.CreateTemplate(r.Context(), principalFrom(r), auth.CreateTemplateInput{
		Name:         req.Name,
		Description:  req.Description,
		Permissions:  req.Permissions,
		DefaultScope: req.DefaultAccessScope,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/templates/%s", tpl.ID))
	writeJSON(w, http.StatusCreated, tpl)
}

func (a *API) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := a.roles.GetTemplate(r.Context(), principalFrom(r), chi.URLParam(r, "templateID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (a *API) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req updateTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := auth.TemplateUpdate{Name: req.Name, Description: req.Description}
	if req.Permissions != nil {
		perms, err := auth.PermissionSetFromMap(req.Permissions)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		upd.Permissions = &perms
	}
	if req.DefaultAccessScope != nil {
		scope, err := auth.ParseAccessScope(*req.DefaultAccessScope)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		upd.DefaultScope = &scope
	}
	tpl, err := a.roles.UpdateTemplate(r.Context(), principalFrom(r), chi.URLParam(r, "templateID"), upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (a *API) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.roles.DeleteTemplate(r.Context(), principalFrom(r), chi.URLParam(r, "templateID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.roles.Assign(r.Context(), principalFrom(r), auth.AssignInput{
		EmployeeID:  req.EmployeeID,
		TemplateID:  req.RoleTemplateID,
		Scope:       req.AccessScope,
		Individuals: req.AccessibleEmployeeIDs,
		Groups:      req.AccessibleGroups,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) deleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := a.roles.RemoveAssignment(r.Context(), principalFrom(r), chi.URLParam(r, "assignmentID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) employeeRoles(w http.ResponseWriter, r *http.Request) {
	assignments, err := a.roles.EmployeeRoles(r.Context(), principalFrom(r), chi.URLParam(r, "employeeID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (a *API) createDelegation(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.roles.Delegate(r.Context(), principalFrom(r), auth.DelegateInput{
		DelegatorID: req.DelegatorID,
		DelegateID:  req.DelegateID,
		Type:        req.DelegationType,
		StartsAt:    req.StartsAt,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) listDelegations(w http.ResponseWriter, r *http.Request) {
	list, err := a.roles.Delegations(r.Context(), principalFrom(r), r.URL.Query().Get("employee_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegations": list})
}

func (a *API) revokeDelegation(w http.ResponseWriter, r *http.Request) {
	if err := a.roles.RevokeDelegation(r.Context(), principalFrom(r), chi.URLParam(r, "delegationID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
