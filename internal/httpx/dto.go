package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/campus-marketplace/internal/checkout"
)

var validate = validator.New()

type cartLineReq struct {
	ProductID string `json:"product_id" validate:"required"`
	Delta     int    `json:"delta"`
	Mode      string `json:"mode" validate:"required,oneof=add subtract set"`
}

type paymentReq struct {
	PaymentID  string `json:"payment_id" validate:"required"`
	Method     string `json:"method" validate:"required,oneof=bkash nagad debit_card credit_card"`
	AccountRef string `json:"account_ref" validate:"required,max=64"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Address    string `json:"address" validate:"required,max=500"`
}

type refundReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

type deliveryReq struct {
	Status string `json:"status" validate:"required,oneof=on_the_way delivered cancelled"`
}

type resolveReq struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
}

type createProductReq struct {
	Name  string `json:"name" validate:"required,max=200"`
	Price int64  `json:"price" validate:"gte=0"`
	Stock int    `json:"stock" validate:"gte=0"`
}

type patchProductReq struct {
	Price  *int64 `json:"price" validate:"omitempty,gte=0"`
	Active *bool  `json:"active"`
}

// decode reads a JSON body into dst and validates it. An empty body decodes to the zero value.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed body", checkout.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", checkout.ErrInvalidInput, err.Error())
	}
	return nil
}
