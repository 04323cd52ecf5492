package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	productdomain "github.com/smallbiznis/catalog/internal/product/domain"
	"go.uber.org/zap"
)

const (
	noticeCreated = "Product created successfully"
	noticeUpdated = "Product updated successfully"
	noticeDeleted = "Product deleted successfully"
)

type productView struct {
	ID       string
	Name     string
	Details  string
	Price    string
	Size     string
	Color    string
	Category string
	ImageURL string
}

type formValues struct {
	Name     string
	Details  string
	Price    string
	Size     string
	Color    string
	Category string
}

type productForm struct {
	Title    string
	Action   string
	Method   string
	Submit   string
	Values   formValues
	Errors   map[string]string
	ImageURL string
}

func toProductView(p productdomain.Product) productView {
	return productView{
		ID:       snowflake.ID(p.ID).String(),
		Name:     p.Name,
		Details:  p.DetailsText(),
		Price:    p.Price.StringFixed(2),
		Size:     p.Size,
		Color:    p.Color,
		Category: p.Category,
		ImageURL: imageURL(p.ImagePath()),
	}
}

func imageURL(relativePath string) string {
	if relativePath == "" {
		return ""
	}
	return "/" + strings.TrimPrefix(relativePath, "/")
}

func (s *Server) ListProducts(c *gin.Context) {
	items, err := s.productSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]productView, 0, len(items))
	for _, item := range items {
		views = append(views, toProductView(item))
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":    "Products",
		"Notice":   s.popNotice(c),
		"Products": views,
	})
}

func (s *Server) NewProductForm(c *gin.Context) {
	s.renderForm(c, http.StatusOK, newProductForm(formValues{}, nil))
}

func (s *Server) CreateProduct(c *gin.Context) {
	values, upload, tooLarge, err := readProductForm(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if tooLarge {
		s.renderForm(c, http.StatusUnprocessableEntity, newProductForm(values, map[string]string{"image": "is too large"}))
		return
	}

	created, err := s.productSvc.Create(c.Request.Context(), productdomain.CreateInput{
		Name:     values.Name,
		Details:  values.Details,
		Price:    values.Price,
		Size:     values.Size,
		Color:    values.Color,
		Category: values.Category,
		Image:    upload,
	})
	if err != nil {
		var verr *productdomain.ValidationError
		if errors.As(err, &verr) {
			s.renderForm(c, http.StatusUnprocessableEntity, newProductForm(values, verr.Fields))
			return
		}
		AbortWithError(c, err)
		return
	}

	s.log.Debug("create product handled", zap.Int64("product_id", created.ID))
	s.setNotice(c, noticeCreated)
	c.Redirect(http.StatusFound, "/products")
}

func (s *Server) EditProductForm(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	item, err := s.productSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := toProductView(*item)
	form := editProductForm(view.ID, formValues{
		Name:     view.Name,
		Details:  view.Details,
		Price:    view.Price,
		Size:     view.Size,
		Color:    view.Color,
		Category: view.Category,
	}, nil)
	form.ImageURL = view.ImageURL
	s.renderForm(c, http.StatusOK, form)
}

func (s *Server) UpdateProduct(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()

	values, upload, tooLarge, err := readProductForm(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var fieldErrs map[string]string
	if tooLarge {
		fieldErrs = map[string]string{"image": "is too large"}
	} else {
		_, err = s.productSvc.Update(ctx, id, productdomain.UpdateInput{
			Name:     values.Name,
			Details:  values.Details,
			Price:    values.Price,
			Size:     values.Size,
			Color:    values.Color,
			Category: values.Category,
			Image:    upload,
		})
		var verr *productdomain.ValidationError
		switch {
		case err == nil:
			s.setNotice(c, noticeUpdated)
			c.Redirect(http.StatusFound, "/products")
			return
		case errors.As(err, &verr):
			fieldErrs = verr.Fields
		default:
			AbortWithError(c, err)
			return
		}
	}

	current, err := s.productSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	form := editProductForm(snowflake.ID(current.ID).String(), values, fieldErrs)
	form.ImageURL = imageURL(current.ImagePath())
	s.renderForm(c, http.StatusUnprocessableEntity, form)
}

func (s *Server) DeleteProduct(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.productSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.setNotice(c, noticeDeleted)
	c.Redirect(http.StatusFound, "/products")
}

func (s *Server) renderForm(c *gin.Context, status int, form productForm) {
	c.HTML(status, "form.html", gin.H{
		"Title": form.Title,
		"Form":  form,
	})
}

func newProductForm(values formValues, fieldErrs map[string]string) productForm {
	return productForm{
		Title:  "New product",
		Action: "/products",
		Method: http.MethodPost,
		Submit: "Create",
		Values: values,
		Errors: fieldErrs,
	}
}

func editProductForm(id string, values formValues, fieldErrs map[string]string) productForm {
	return productForm{
		Title:  "Edit product",
		Action: "/products/" + id,
		Method: http.MethodPut,
		Submit: "Save",
		Values: values,
		Errors: fieldErrs,
	}
}

// readProductForm extracts the text fields and the optional image file.
func readProductForm(c *gin.Context) (formValues, *productdomain.Upload, bool, error) {
	tooLarge, err := parseForm(c.Request)
	if err != nil {
		return formValues{}, nil, false, err
	}

	values := formValues{
		Name:     c.PostForm("name"),
		Details:  c.PostForm("details"),
		Price:    c.PostForm("price"),
		Size:     c.PostForm("size"),
		Color:    c.PostForm("color"),
		Category: c.PostForm("category"),
	}
	if tooLarge {
		return values, nil, true, nil
	}

	upload, err := readUpload(c)
	if err != nil {
		return values, nil, false, err
	}
	return values, upload, false, nil
}

func readUpload(c *gin.Context) (*productdomain.Upload, error) {
	if c.Request.MultipartForm == nil {
		return nil, nil
	}
	fh, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	upload := &productdomain.Upload{Filename: fh.Filename, Content: content}
	if !upload.Present() {
		return nil, nil
	}
	return upload, nil
}
