package testutil

import "github.com/roach88/docrel/internal/relast"

// ShopCatalog is the merge fixture:
//
//	customer            standalone, collection "customers"
//	  order     MANY    merges into customer via customer_id
//	    line    MANY    merges into order via order_id, key (order_id, line_no)
//	  profile   ONE     merges into customer, key == foreign key
//	product             standalone, embeddable into order
func ShopCatalog() *relast.Catalog {
	return relast.MustCatalog(
		&relast.Table{
			Name:       "customer",
			Collection: "customers",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "name", Type: relast.TypeString},
				{Name: "city", Type: relast.TypeString, Nullable: true},
				{Name: "tier", Type: relast.TypeString, Nullable: true},
			},
			PrimaryKey: []string{"id"},
			Indexes:    []relast.Index{{Name: "by_name", Columns: []string{"name"}}},
		},
		&relast.Table{
			Name: "order",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "customer_id", Type: relast.TypeInt},
				{Name: "product_id", Type: relast.TypeInt, Nullable: true},
				{Name: "total", Type: relast.TypeFloat},
				{Name: "status", Type: relast.TypeString},
				{Name: "placed_at", Type: relast.TypeTimestamp, Nullable: true},
				{Name: "tags", Type: relast.TypeArray, Nullable: true},
			},
			PrimaryKey: []string{"id"},
			ForeignKeys: []relast.ForeignKey{
				{Columns: []string{"customer_id"}, RefTable: "customer"},
				{Columns: []string{"product_id"}, RefTable: "product"},
			},
			MergeInto: "customer",
		},
		&relast.Table{
			Name: "line",
			Columns: []relast.Column{
				{Name: "order_id", Type: relast.TypeInt},
				{Name: "line_no", Type: relast.TypeInt},
				{Name: "sku", Type: relast.TypeString},
				{Name: "qty", Type: relast.TypeInt},
			},
			PrimaryKey:  []string{"order_id", "line_no"},
			ForeignKeys: []relast.ForeignKey{{Columns: []string{"order_id"}, RefTable: "order"}},
			MergeInto:   "order",
		},
		&relast.Table{
			Name: "profile",
			Columns: []relast.Column{
				{Name: "customer_id", Type: relast.TypeInt},
				{Name: "bio", Type: relast.TypeString, Nullable: true},
			},
			PrimaryKey:  []string{"customer_id"},
			ForeignKeys: []relast.ForeignKey{{Columns: []string{"customer_id"}, RefTable: "customer"}},
			MergeInto:   "customer",
		},
		&relast.Table{
			Name:       "product",
			Collection: "products",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "name", Type: relast.TypeString},
				{Name: "price", Type: relast.TypeFloat},
			},
			PrimaryKey:     []string{"id"},
			EmbeddableInto: []string{"order"},
		},
	)
}

// StoreCatalog is the embed fixture:
//
//	supplier    embeddable into product
//	product     embeddable into item and listing, embeds supplier
//	item        embeds product, and supplier through it
//	listing     embeds product
//	warehouse   composite key (region, code), embeddable into stock
//	stock       embeds warehouse through a composite foreign key
func StoreCatalog() *relast.Catalog {
	return relast.MustCatalog(
		&relast.Table{
			Name: "supplier",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "name", Type: relast.TypeString},
				{Name: "country", Type: relast.TypeString, Nullable: true},
			},
			PrimaryKey:     []string{"id"},
			EmbeddableInto: []string{"product"},
		},
		&relast.Table{
			Name: "product",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "name", Type: relast.TypeString},
				{Name: "price", Type: relast.TypeFloat},
				{Name: "supplier_id", Type: relast.TypeInt},
			},
			PrimaryKey:     []string{"id"},
			ForeignKeys:    []relast.ForeignKey{{Columns: []string{"supplier_id"}, RefTable: "supplier"}},
			Indexes:        []relast.Index{{Name: "uniq_name", Columns: []string{"name"}, Unique: true}},
			EmbeddableInto: []string{"item", "listing"},
		},
		&relast.Table{
			Name: "item",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "product_id", Type: relast.TypeInt},
				{Name: "qty", Type: relast.TypeInt},
				{Name: "note", Type: relast.TypeString, Nullable: true},
			},
			PrimaryKey:  []string{"id"},
			ForeignKeys: []relast.ForeignKey{{Columns: []string{"product_id"}, RefTable: "product"}},
		},
		&relast.Table{
			Name: "listing",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "product_id", Type: relast.TypeInt},
				{Name: "channel", Type: relast.TypeString},
			},
			PrimaryKey:  []string{"id"},
			ForeignKeys: []relast.ForeignKey{{Columns: []string{"product_id"}, RefTable: "product"}},
		},
		&relast.Table{
			Name: "warehouse",
			Columns: []relast.Column{
				{Name: "region", Type: relast.TypeString},
				{Name: "code", Type: relast.TypeString},
				{Name: "name", Type: relast.TypeString},
			},
			PrimaryKey:     []string{"region", "code"},
			EmbeddableInto: []string{"stock"},
		},
		&relast.Table{
			Name: "stock",
			Columns: []relast.Column{
				{Name: "id", Type: relast.TypeInt},
				{Name: "wh_region", Type: relast.TypeString},
				{Name: "wh_code", Type: relast.TypeString},
				{Name: "qty", Type: relast.TypeInt},
			},
			PrimaryKey: []string{"id"},
			ForeignKeys: []relast.ForeignKey{{
				Name:       "warehouse_ref",
				Columns:    []string{"wh_region", "wh_code"},
				RefTable:   "warehouse",
				RefColumns: []string{"region", "code"},
			}},
		},
	)
}
