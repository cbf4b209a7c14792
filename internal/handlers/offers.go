package handlers

import (
	"net/http"
	"strconv"

	"fretes-chat/internal/models"
	"fretes-chat/internal/services"

	"github.com/gofiber/fiber/v2"
)

func offerIDParam(c *fiber.Ctx) (int, bool) {
	id, err := strconv.Atoi(c.Params("id"))
	return id, err == nil && id > 0
}

// ListOffersHandler is public. Query: origin, destination, price_min,
// price_max, owner_id.
func ListOffersHandler(offers *services.OfferService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f := models.OfferFilter{
			Origin:      c.Query("origin"),
			Destination: c.Query("destination"),
		}
		var err error
		if v := c.Query("price_min"); v != "" {
			if f.MinPrice, err = strconv.ParseFloat(v, 64); err != nil {
				return badRequest(c, "invalid price_min")
			}
		}
		if v := c.Query("price_max"); v != "" {
			if f.MaxPrice, err = strconv.ParseFloat(v, 64); err != nil {
				return badRequest(c, "invalid price_max")
			}
		}
		f.OwnerID = c.QueryInt("owner_id", 0)

		list, err := offers.List(c.Context(), f)
		if err != nil {
			return respondError(c, err, "ListOffers")
		}
		return c.JSON(fiber.Map{"offers": list})
	}
}

func GetOfferHandler(offers *services.OfferService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := offerIDParam(c)
		if !ok {
			return badRequest(c, "invalid offer id")
		}
		o, err := offers.Get(c.Context(), id)
		if err != nil {
			return respondError(c, err, "GetOffer")
		}
		return c.JSON(o)
	}
}

func CreateOfferHandler(offers *services.OfferService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.OfferRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		o, err := offers.Create(c.Context(), currentUserID(c), currentRole(c), req)
		if err != nil {
			return respondError(c, err, "CreateOffer")
		}
		return c.Status(http.StatusCreated).JSON(o)
	}
}

func UpdateOfferHandler(offers *services.OfferService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := offerIDParam(c)
		if !ok {
			return badRequest(c, "invalid offer id")
		}
		var req models.OfferRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		o, err := offers.Update(c.Context(), id, currentUserID(c), currentRole(c), req)
		if err != nil {
			return respondError(c, err, "UpdateOffer")
		}
		return c.JSON(o)
	}
}

func DeleteOfferHandler(offers *services.OfferService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := offerIDParam(c)
		if !ok {
			return badRequest(c, "invalid offer id")
		}
		if err := offers.Delete(c.Context(), id, currentUserID(c), currentRole(c)); err != nil {
			return respondError(c, err, "DeleteOffer")
		}
		return c.SendStatus(http.StatusNoContent)
	}
}
