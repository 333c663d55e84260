package restapi

import (
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/gateway"
	"github.com/talkincode/wagateway/internal/webserver"
)

type createGroupPayload struct {
	PhoneID      string   `json:"phoneId"`
	GroupName    string   `json:"groupName" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

type participantsPayload struct {
	PhoneID      string   `json:"phoneId"`
	GroupID      string   `json:"groupId" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

type groupSubjectPayload struct {
	PhoneID string `json:"phoneId"`
	GroupID string `json:"groupId" validate:"required"`
	Subject string `json:"subject" validate:"required"`
}

type groupDescriptionPayload struct {
	PhoneID     string `json:"phoneId"`
	GroupID     string `json:"groupId" validate:"required"`
	Description string `json:"description"`
}

func (h *Handlers) createGroup(c echo.Context) error {
	var p createGroupPayload
	if err := bind(c, &p, "Group name and participants array are required"); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	group, err := h.dispatcher.CreateGroup(c.Request().Context(), id, p.GroupName, p.Participants)
	if err != nil {
		return h.replyError(c, id, err, "Error creating group")
	}
	return ok(c, "Group created successfully", webserver.Response{"group": group})
}

func (h *Handlers) updateParticipants(c echo.Context, action gateway.ParticipantAction, success, failure string) error {
	var p participantsPayload
	if err := bind(c, &p, "Group ID and participants array are required"); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	result, err := h.dispatcher.UpdateParticipants(c.Request().Context(), id, p.GroupID, p.Participants, action)
	if err != nil {
		return h.replyError(c, id, err, failure)
	}
	return ok(c, success, webserver.Response{"result": result})
}

func (h *Handlers) addParticipants(c echo.Context) error {
	return h.updateParticipants(c, gateway.ParticipantAdd,
		"Participants added successfully", "Error adding participants")
}

func (h *Handlers) removeParticipants(c echo.Context) error {
	return h.updateParticipants(c, gateway.ParticipantRemove,
		"Participants removed successfully", "Error removing participants")
}

func (h *Handlers) setGroupSubject(c echo.Context) error {
	var p groupSubjectPayload
	if err := bind(c, &p, "Group ID and subject are required"); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	if err := h.dispatcher.SetGroupSubject(c.Request().Context(), id, p.GroupID, p.Subject); err != nil {
		return h.replyError(c, id, err, "Error updating group subject")
	}
	return ok(c, "Group subject updated successfully", nil)
}

func (h *Handlers) setGroupDescription(c echo.Context) error {
	var p groupDescriptionPayload
	if err := bind(c, &p, "Group ID is required"); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	if err := h.dispatcher.SetGroupDescription(c.Request().Context(), id, p.GroupID, p.Description); err != nil {
		return h.replyError(c, id, err, "Error updating group description")
	}
	return ok(c, "Group description updated successfully", nil)
}

func (h *Handlers) groupInfo(c echo.Context) error {
	id := accountOf(c.QueryParam("phoneId"))
	info, err := h.dispatcher.GroupInfo(c.Request().Context(), id, c.Param("groupId"))
	if err != nil {
		return h.replyError(c, id, err, "Error getting group info")
	}
	return ok(c, "", webserver.Response{"groupInfo": info})
}

func (h *Handlers) groups(c echo.Context) error {
	id := accountOf(c.QueryParam("phoneId"))
	groups, err := h.dispatcher.Groups(c.Request().Context(), id)
	if err != nil {
		return h.replyError(c, id, err, "Error getting groups")
	}
	return ok(c, "", webserver.Response{"groups": groups})
}
